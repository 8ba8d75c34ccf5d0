package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/claims/internal/platform/db"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGSink writes events to the audit_event table. It joins the transaction or
// request connection carried by ctx, so an event commits with the change it
// describes.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) conn(ctx context.Context) execer {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGSink) Record(ctx context.Context, e *Event) error {
	prepare(ctx, e)
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO audit_event (id, event_type, resource_type, resource_id, encounter_id,
			actor, outcome, error_kind, message, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Type, e.ResourceType, e.ResourceID, e.EncounterID,
		e.Actor, e.Outcome, e.ErrorKind, e.Message, e.Recorded)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", e.Type, err)
	}
	return nil
}

// ListByResource returns the events for one resource, oldest first.
func (s *PGSink) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, resource_type, resource_id, encounter_id,
			actor, outcome, error_kind, message, recorded
		FROM audit_event WHERE resource_type = $1 AND resource_id = $2
		ORDER BY recorded, id`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("audit: list %s/%s: %w", resourceType, resourceID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var e Event
		err := row.Scan(&e.ID, &e.Type, &e.ResourceType, &e.ResourceID, &e.EncounterID,
			&e.Actor, &e.Outcome, &e.ErrorKind, &e.Message, &e.Recorded)
		return e, err
	})
}
