// Package boardprovider defines the port interface for external project
// boards (GitHub Issues, GitHub Projects, and compatible trackers).
package boardprovider

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotSupported is returned when a provider does not support the requested operation.
var ErrNotSupported = errors.New("operation not supported by this provider")

// Mode selects which board surface the provider talks to.
type Mode string

const (
	// ModeIssues tracks tasks as plain issues. Default.
	ModeIssues Mode = "issues"
	// ModeKanban tracks tasks as items on a project board.
	ModeKanban Mode = "kanban"
)

// Item is a canonical work item from the board, produced by payload coercion.
// Raw provider payloads arrive in several historically-observed shapes; only
// the coercion routine in boardsync may decode them.
type Item struct {
	ID         string            `json:"id"`
	Number     int               `json:"number,omitempty"`
	ExternalID string            `json:"external_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Status     string            `json:"status"`
	Labels     []string          `json:"labels,omitempty"`
	Assignee   string            `json:"assignee,omitempty"`
	OwnerID    string            `json:"owner_id,omitempty"` // remote shared-state owner
	Meta       map[string]string `json:"meta,omitempty"`
}

// Capabilities declares what a board provider supports.
type Capabilities struct {
	ListItems    bool `json:"list_items"`
	GetItem      bool `json:"get_item"`
	CreateItem   bool `json:"create_item"`
	UpdateItem   bool `json:"update_item"`
	UpdateStatus bool `json:"update_status"`
}

// Provider is the port interface for project boards. List and Get return the
// raw response payload untouched; callers must pass it through the coercion
// routine before use, which isolates every downstream consumer from upstream
// format drift.
type Provider interface {
	// Name returns the provider identifier (e.g., "github").
	Name() string

	// Mode returns the board surface this provider instance operates on.
	Mode() Mode

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// ListItems returns the raw payload of the board's item listing.
	ListItems(ctx context.Context) (json.RawMessage, error)

	// GetItem returns the raw payload for a single item by its external ID.
	GetItem(ctx context.Context, externalID string) (json.RawMessage, error)

	// CreateItem creates a new work item and returns its external ID.
	CreateItem(ctx context.Context, item *Item) (string, error)

	// UpdateItem updates an existing work item.
	UpdateItem(ctx context.Context, item *Item) error

	// UpdateStatus moves an item to a new status column/state.
	UpdateStatus(ctx context.Context, externalID, status string) error
}
