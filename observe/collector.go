package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/meshguard/resilience"
)

// EventSource is anything with a resilience event stream. All resilience
// components satisfy it.
type EventSource interface {
	Subscribe(fn func(resilience.Event)) func()
}

// Collector turns resilience event streams into OpenTelemetry metrics and
// structured log lines. One Collector can observe any number of components.
//
// Contract:
// - Concurrency: safe for concurrent use; events may arrive from any goroutine.
// - Errors: recording is best-effort and must not panic.
type Collector struct {
	logger Logger

	events       metric.Int64Counter
	transitions  metric.Int64Counter
	opened       metric.Int64Counter
	taskDuration metric.Float64Histogram
	queueWait    metric.Float64Histogram
}

// NewCollector creates a Collector recording to the given meter and logging
// to the given logger. A nil logger discards log output.
func NewCollector(meter metric.Meter, logger Logger) (*Collector, error) {
	if logger == nil {
		logger = NopLogger()
	}

	events, err := meter.Int64Counter(
		"resilience.events",
		metric.WithDescription("Resilience events by component and type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"resilience.state_changes",
		metric.WithDescription("State transitions by component"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	opened, err := meter.Int64Counter(
		"resilience.breaker.opened",
		metric.WithDescription("Circuit breaker trips"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram(
		"resilience.task.duration_ms",
		metric.WithDescription("Bulkhead task execution time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queueWait, err := meter.Float64Histogram(
		"resilience.task.queue_wait_ms",
		metric.WithDescription("Bulkhead queue wait time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Collector{
		logger:       logger,
		events:       events,
		transitions:  transitions,
		opened:       opened,
		taskDuration: taskDuration,
		queueWait:    queueWait,
	}, nil
}

// Attach subscribes the collector to a component's event stream and returns
// the cancel func from the subscription.
func (c *Collector) Attach(src EventSource) func() {
	return src.Subscribe(c.Handle)
}

// Handle records a single resilience event.
func (c *Collector) Handle(ev resilience.Event) {
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("component", ev.Source),
		attribute.String("event", string(ev.Type)),
	}
	c.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	switch ev.Type {
	case resilience.EventStateChanged:
		c.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", ev.Source),
			attribute.String("from", ev.From),
			attribute.String("to", ev.To),
		))
		c.logger.Info(ctx, "state changed",
			Field{Key: "component", Value: ev.Source},
			Field{Key: "from", Value: ev.From},
			Field{Key: "to", Value: ev.To},
		)

	case resilience.EventCircuitOpened:
		c.opened.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", ev.Source),
		))
		c.logger.Warn(ctx, "circuit opened",
			Field{Key: "component", Value: ev.Source},
		)

	case resilience.EventTaskStarted:
		if ev.Task != nil && !ev.Task.StartedAt.IsZero() {
			wait := ev.Task.StartedAt.Sub(ev.Task.SubmittedAt)
			c.queueWait.Record(ctx, durationMillis(wait), metric.WithAttributes(
				attribute.String("component", ev.Source),
			))
		}

	case resilience.EventTaskCompleted, resilience.EventTaskFailed:
		if ev.Task != nil && !ev.Task.CompletedAt.IsZero() {
			dur := ev.Task.CompletedAt.Sub(ev.Task.StartedAt)
			c.taskDuration.Record(ctx, durationMillis(dur), metric.WithAttributes(
				attribute.String("component", ev.Source),
				attribute.String("status", ev.Task.Status.String()),
			))
		}
		if ev.Type == resilience.EventTaskFailed {
			c.logger.Warn(ctx, "task failed",
				Field{Key: "component", Value: ev.Source},
				Field{Key: "error", Value: errString(ev.Err)},
			)
		}

	case resilience.EventTaskRejected:
		c.logger.Warn(ctx, "task rejected",
			Field{Key: "component", Value: ev.Source},
			Field{Key: "error", Value: errString(ev.Err)},
		)

	case resilience.EventRecoveryFailed:
		c.logger.Error(ctx, "recovery attempt failed",
			Field{Key: "component", Value: ev.Source},
			Field{Key: "strategy", Value: ev.Data},
			Field{Key: "error", Value: errString(ev.Err)},
		)

	case resilience.EventRecoverySucceeded:
		c.logger.Info(ctx, "recovery succeeded",
			Field{Key: "component", Value: ev.Source},
			Field{Key: "via", Value: ev.Data},
		)

	case resilience.EventDegraded:
		c.logger.Warn(ctx, "component degraded",
			Field{Key: "component", Value: ev.Source},
			Field{Key: "error", Value: errString(ev.Err)},
		)
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
