// Package service contains application services.
package service

import (
	"context"
	"log/slog"

	"github.com/overseer-dev/overseer/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
// It satisfies the bus's Notifier collaborator interface.
type NotificationService struct {
	notifiers      []notifier.Notifier
	enabledSources map[string]bool
}

// NewNotificationService creates a NotificationService with the given
// notifiers and list of enabled sources (e.g. "task.blocked", "agent.stale").
// If enabledSources is nil or empty, all sources are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledSources []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledSources))
	for _, s := range enabledSources {
		enabled[s] = true
	}
	return &NotificationService{
		notifiers:      notifiers,
		enabledSources: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabledSources) > 0 && !s.enabledSources[n.Source] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
