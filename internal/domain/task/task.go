// Package task defines the Task domain entity shared by the event bus and the
// board sync engine.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusInReview   Status = "inreview"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusTodo, StatusInProgress, StatusInReview,
		StatusDone, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Task is the unit of work reconciled between the local store and the
// external project board.
type Task struct {
	ID                 string            `json:"id"`
	Title              string            `json:"title"`
	Prompt             string            `json:"prompt,omitempty"`
	Status             Status            `json:"status"`
	SharedStateOwnerID string            `json:"shared_state_owner_id,omitempty"`
	ClaimedBy          string            `json:"claimed_by,omitempty"`
	ExternalID         string            `json:"external_id,omitempty"`
	Labels             []string          `json:"labels,omitempty"`
	Meta               map[string]string `json:"meta,omitempty"`
	Version            int               `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// MetaOwnerKey is the legacy meta key carrying the shared-state owner.
const MetaOwnerKey = "sharedState.ownerId"

// LocalOwner resolves the task's local owner identity.
// Precedence: SharedStateOwnerID (authoritative), then the shared-state meta
// entry, then the legacy ClaimedBy field. Empty string means unowned.
func (t *Task) LocalOwner() string {
	if t.SharedStateOwnerID != "" {
		return t.SharedStateOwnerID
	}
	if t.Meta != nil {
		if owner := t.Meta[MetaOwnerKey]; owner != "" {
			return owner
		}
	}
	return t.ClaimedBy
}

// OwnerConflict reports whether local and remote ownership disagree.
// A conflict requires both owners to be present and different, and the local
// record must not already be known-stale -- a stale local claim never contends
// with the board.
func OwnerConflict(localOwner, remoteOwner string, stale bool) bool {
	if stale {
		return false
	}
	return localOwner != "" && remoteOwner != "" && localOwner != remoteOwner
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	Title  string   `json:"title"`
	Prompt string   `json:"prompt"`
	Labels []string `json:"labels,omitempty"`
}
