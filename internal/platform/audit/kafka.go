package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by resource ID so a claim's
// history stays on one partition.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaWriter returns a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Record(ctx context.Context, e *Event) error {
	prepare(ctx, e)
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal %s: %w", e.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(e.ResourceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: publish %s: %w", e.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
