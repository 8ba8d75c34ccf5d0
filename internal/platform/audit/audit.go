// Package audit records append-only claim events. Sinks write to Postgres,
// Kafka or the application log; Multi fans one event out to several.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one audit record.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	EncounterID  string    `json:"encounter_id,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	Outcome      string    `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	Recorded     time.Time `json:"recorded"`
}

// Sink consumes audit events.
type Sink interface {
	Record(ctx context.Context, e *Event) error
}

// prepare fills ID, Recorded, Outcome and Actor when unset.
func prepare(ctx context.Context, e *Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.Actor == "" {
		e.Actor = ActorFromContext(ctx)
	}
}

type actorKey struct{}

// WithActor attaches the acting user to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting user, or "system".
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

// Multi records each event to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e *Event) error {
	prepare(ctx, e)
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Record(ctx context.Context, e *Event) error {
	if r.Err != nil {
		return r.Err
	}
	prepare(ctx, e)
	r.mu.Lock()
	r.events = append(r.events, *e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
