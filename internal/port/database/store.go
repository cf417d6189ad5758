// Package database defines the port interface for the local task store.
package database

import (
	"context"

	"github.com/overseer-dev/overseer/internal/domain/task"
)

// Store is the port interface for persisting tasks locally.
type Store interface {
	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]task.Task, error)

	// GetTask returns a task by ID.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// GetTaskByExternalID returns the task linked to the given board item.
	GetTaskByExternalID(ctx context.Context, externalID string) (*task.Task, error)

	// CreateTask persists a new task.
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)

	// UpdateTask persists the full task record using optimistic locking on Version.
	UpdateTask(ctx context.Context, t *task.Task) error

	// UpdateTaskStatus updates only the status of a task.
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error

	// ClaimTask sets the shared-state owner if the task is currently unowned.
	// Returns domain.ErrConflict if another owner already holds it.
	ClaimTask(ctx context.Context, id, ownerID string) error

	// ReleaseTask clears the shared-state owner if held by ownerID.
	ReleaseTask(ctx context.Context, id, ownerID string) error

	// DeleteTask removes a task (used when the remote object was deleted upstream).
	DeleteTask(ctx context.Context, id string) error
}
