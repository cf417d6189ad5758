package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/overseer-dev/overseer/internal/domain/event"
)

const meterName = "overseer"

// Metrics holds all supervisor metric instruments.
type Metrics struct {
	EventsRecorded metric.Int64Counter
	AgentsStale    metric.Int64Counter
	AutoRetries    metric.Int64Counter
	TasksBlocked   metric.Int64Counter
	SyncCycles     metric.Int64Counter
	SyncConflicts  metric.Int64Counter
	SyncDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsRecorded, err = meter.Int64Counter("overseer.events.recorded",
		metric.WithDescription("Number of lifecycle events recorded"))
	if err != nil {
		return nil, err
	}

	m.AgentsStale, err = meter.Int64Counter("overseer.agents.stale",
		metric.WithDescription("Number of agents flagged stale"))
	if err != nil {
		return nil, err
	}

	m.AutoRetries, err = meter.Int64Counter("overseer.recovery.retries",
		metric.WithDescription("Number of automatic task retries"))
	if err != nil {
		return nil, err
	}

	m.TasksBlocked, err = meter.Int64Counter("overseer.recovery.blocked",
		metric.WithDescription("Number of tasks blocked by the classifier"))
	if err != nil {
		return nil, err
	}

	m.SyncCycles, err = meter.Int64Counter("overseer.sync.cycles",
		metric.WithDescription("Number of board sync cycles run"))
	if err != nil {
		return nil, err
	}

	m.SyncConflicts, err = meter.Int64Counter("overseer.sync.conflicts",
		metric.WithDescription("Number of ownership conflicts resolved"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("overseer.sync.duration_seconds",
		metric.WithDescription("Sync cycle duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EventListener returns a bus listener that counts recorded events by kind
// and feeds the recovery counters from the auto-action events.
func (m *Metrics) EventListener() func(ev event.Event) {
	return func(ev event.Event) {
		ctx := context.Background()
		m.EventsRecorded.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(ev.Kind))))

		switch ev.Kind {
		case event.KindAgentStale:
			m.AgentsStale.Add(ctx, 1)
		case event.KindAutoRetry:
			m.AutoRetries.Add(ctx, 1)
		case event.KindAutoBlock:
			m.TasksBlocked.Add(ctx, 1)
		}
	}
}

// RegisterDedupObserver exports the cumulative count of suppressed duplicate
// events. The supplier is read at collection time.
func RegisterDedupObserver(supplier func() int64) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableCounter("overseer.events.deduped",
		metric.WithDescription("Number of duplicate events suppressed"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(supplier())
			return nil
		}))
	return err
}
