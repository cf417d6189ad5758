package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/overseer-dev/overseer/internal/domain/event"
	"github.com/overseer-dev/overseer/internal/port/messagequeue"
)

// Republisher mirrors recorded bus events onto the message queue so other
// processes can follow the fleet without a WebSocket connection.
type Republisher struct {
	queue messagequeue.Queue
}

// NewRepublisher creates a Republisher over the given queue.
func NewRepublisher(queue messagequeue.Queue) *Republisher {
	return &Republisher{queue: queue}
}

// Listener returns a bus listener that publishes each event to a subject
// derived from its kind, e.g. "events.task.failed". Publish failures are
// logged and dropped; event recording never blocks on the queue.
func (r *Republisher) Listener() func(ev event.Event) {
	return func(ev event.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal event for queue", "kind", ev.Kind, "error", err)
			return
		}
		subject := SubjectFor(ev.Kind)
		if err := r.queue.Publish(context.Background(), subject, data); err != nil {
			slog.Error("republish event", "subject", subject, "error", err)
		}
	}
}

// SubjectFor maps an event kind onto its stream subject.
func SubjectFor(kind event.Kind) string {
	return "events." + string(kind)
}
