package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

func TestRecorder_FillsDefaults(t *testing.T) {
	r := &Recorder{}
	ctx := WithActor(context.Background(), "billing-user")

	if err := r.Record(ctx, &Event{Type: "CLAIM_GENERATED", ResourceType: "INSURANCE_CLAIM", ResourceID: "c1"}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	events := r.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if e.Recorded.IsZero() {
		t.Error("expected Recorded to be set")
	}
	if e.Outcome != OutcomeSuccess {
		t.Errorf("expected outcome success, got %s", e.Outcome)
	}
	if e.Actor != "billing-user" {
		t.Errorf("expected actor from context, got %s", e.Actor)
	}
}

func TestActorFromContext_Default(t *testing.T) {
	if got := ActorFromContext(context.Background()); got != "system" {
		t.Errorf("expected system, got %s", got)
	}
	if got := ActorFromContext(WithActor(context.Background(), "")); got != "system" {
		t.Errorf("empty actor must fall back to system, got %s", got)
	}
}

func TestRecorder_OfType(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	_ = r.Record(ctx, &Event{Type: "A"})
	_ = r.Record(ctx, &Event{Type: "B"})
	_ = r.Record(ctx, &Event{Type: "A"})
	if got := len(r.OfType("A")); got != 2 {
		t.Errorf("expected 2 A events, got %d", got)
	}
}

func TestMulti_RecordsToAllAndJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	failing := &Recorder{Err: errors.New("kafka down")}
	m := Multi{failing, ok}

	err := m.Record(context.Background(), &Event{Type: "CLAIM_GENERATED"})
	if err == nil || !strings.Contains(err.Error(), "kafka down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.Events()) != 1 {
		t.Error("healthy sink must still receive the event")
	}
}

func TestMulti_SharedID(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	if err := (Multi{a, b}).Record(context.Background(), &Event{Type: "X"}); err != nil {
		t.Fatal(err)
	}
	if a.Events()[0].ID != b.Events()[0].ID {
		t.Error("fan-out must carry one event ID to every sink")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_Record(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w)

	err := s.Record(context.Background(), &Event{
		Type:         "CLAIM_GENERATED",
		ResourceType: "INSURANCE_CLAIM",
		ResourceID:   "claim-42",
		EncounterID:  "enc-1",
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "claim-42" {
		t.Errorf("expected key claim-42, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "CLAIM_GENERATED" {
		t.Errorf("unexpected headers %+v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("invalid JSON payload: %v", err)
	}
	if decoded.EncounterID != "enc-1" || decoded.Outcome != OutcomeSuccess {
		t.Errorf("unexpected payload %+v", decoded)
	}

	if err := s.Close(); err != nil || !w.closed {
		t.Error("Close must close the writer")
	}
}

func TestKafkaSink_WriteError(t *testing.T) {
	s := NewKafkaSink(&fakeWriter{err: errors.New("leader not available")})
	if err := s.Record(context.Background(), &Event{Type: "X"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))

	err := s.Record(context.Background(), &Event{
		Type:      "CLAIM_GENERATION_FAILED",
		Outcome:   OutcomeFailure,
		ErrorKind: "submission_io",
		Message:   "write 837 artifact",
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if line["level"] != "warn" {
		t.Errorf("failures log at warn, got %v", line["level"])
	}
	if line["event_type"] != "CLAIM_GENERATION_FAILED" || line["error_kind"] != "submission_io" {
		t.Errorf("unexpected fields %v", line)
	}
	if line["component"] != "audit" {
		t.Errorf("expected component=audit, got %v", line["component"])
	}
}

func TestBestEffort_SwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	failing := &Recorder{Err: errors.New("broker down")}
	sink := NewBestEffort(failing, zerolog.New(&buf))

	if err := sink.Record(context.Background(), &Event{Type: "CLAIM_GENERATED", ResourceID: "c1"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.Contains(buf.String(), "broker down") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}

	ok := &Recorder{}
	_ = NewBestEffort(ok, zerolog.Nop()).Record(context.Background(), &Event{Type: "A"})
	if len(ok.Events()) != 1 {
		t.Error("events must reach the wrapped sink")
	}
}
