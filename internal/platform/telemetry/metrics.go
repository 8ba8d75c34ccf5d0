package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ClaimMetrics are the pipeline's instruments. A nil *ClaimMetrics records
// nothing.
type ClaimMetrics struct {
	generated metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

func NewClaimMetrics(meter metric.Meter) (*ClaimMetrics, error) {
	generated, err := meter.Int64Counter("claims.generated",
		metric.WithDescription("Claims generated and written as 837 artifacts"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("claims.generation.failed",
		metric.WithDescription("Claim generations that failed, by error kind"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("claims.generation.duration",
		metric.WithDescription("End-to-end claim generation time"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &ClaimMetrics{generated: generated, failed: failed, duration: duration}, nil
}

// Generated records a successful generation.
func (m *ClaimMetrics) Generated(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}
	m.generated.Add(ctx, 1)
	m.duration.Record(ctx, float64(took.Milliseconds()), metric.WithAttributes(attribute.String("outcome", "success")))
}

// Failed records a failed generation of the given error kind.
func (m *ClaimMetrics) Failed(ctx context.Context, kind string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("error.kind", kind))
	m.failed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(took.Milliseconds()), metric.WithAttributes(attribute.String("outcome", "failure")))
}
