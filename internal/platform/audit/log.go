package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events to a zerolog logger. Failures log at warn.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Record(ctx context.Context, e *Event) error {
	prepare(ctx, e)
	ev := s.logger.Info()
	if e.Outcome == OutcomeFailure {
		ev = s.logger.Warn()
	}
	ev.Str("event_id", e.ID.String()).
		Str("event_type", e.Type).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("encounter_id", e.EncounterID).
		Str("actor", e.Actor).
		Str("outcome", e.Outcome).
		Str("error_kind", e.ErrorKind).
		Msg(e.Message)
	return nil
}

// BestEffort forwards events to sink and logs, rather than returns, its
// failures. Use it for feeds that must not block the operation being audited.
type BestEffort struct {
	sink   Sink
	logger zerolog.Logger
}

func NewBestEffort(sink Sink, logger zerolog.Logger) *BestEffort {
	return &BestEffort{sink: sink, logger: logger}
}

func (b *BestEffort) Record(ctx context.Context, e *Event) error {
	if err := b.sink.Record(ctx, e); err != nil {
		b.logger.Warn().Err(err).Str("event_type", e.Type).Str("resource_id", e.ResourceID).Msg("audit feed unavailable")
	}
	return nil
}
