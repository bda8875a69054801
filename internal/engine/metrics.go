package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics exposes engine instrumentation. A nil *Metrics disables recording,
// which keeps tests free of meter setup.
type Metrics struct {
	submitted  metric.Int64Counter
	completed  metric.Int64Counter
	duration   metric.Float64Histogram
	queueDepth metric.Int64ObservableGauge
}

// NewMetrics registers engine instruments on the global meter provider. The
// queue depth gauge observes the live queue.
func NewMetrics(queue *Queue) (*Metrics, error) {
	meter := otel.Meter("reef.engine")

	submitted, err := meter.Int64Counter("reef_generation_submitted_total",
		metric.WithDescription("Requests accepted into the generation queue"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("reef_generation_completed_total",
		metric.WithDescription("Requests the worker finished, by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("reef_generation_duration_seconds",
		metric.WithDescription("Wall time the worker spent per request"))
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64ObservableGauge("reef_generation_queue_depth",
		metric.WithDescription("Requests waiting to be claimed by the worker"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(queue.Len()))
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		submitted:  submitted,
		completed:  completed,
		duration:   duration,
		queueDepth: queueDepth,
	}, nil
}

func (m *Metrics) RecordSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.submitted.Add(ctx, 1)
}

func (m *Metrics) RecordCompleted(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.completed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
