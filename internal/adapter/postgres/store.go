package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/domain/task"
)

const taskColumns = `id, title, prompt, status, COALESCE(shared_state_owner_id, ''),
	COALESCE(claimed_by, ''), COALESCE(external_id, ''), labels, meta, version, created_at, updated_at`

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) GetTaskByExternalID(ctx context.Context, externalID string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE external_id = $1`, externalID)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task by external id %s: %w", externalID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task by external id %s: %w", externalID, err)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (title, prompt, labels)
		 VALUES ($1, $2, $3)
		 RETURNING `+taskColumns,
		req.Title, req.Prompt, req.Labels)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	metaJSON, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET title = $2, prompt = $3, status = $4,
		   shared_state_owner_id = NULLIF($5, ''), claimed_by = NULLIF($6, ''),
		   external_id = NULLIF($7, ''), labels = $8, meta = $9,
		   version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $10`,
		t.ID, t.Title, t.Prompt, string(t.Status),
		t.SharedStateOwnerID, t.ClaimedBy, t.ExternalID, t.Labels, metaJSON, t.Version)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConflict)
	}
	t.Version++
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update task status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ClaimTask sets the shared-state owner atomically. The conditional WHERE
// makes the claim a compare-and-set: an already-claimed task is untouched.
func (s *Store) ClaimTask(ctx context.Context, id, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET shared_state_owner_id = $2, updated_at = now()
		 WHERE id = $1 AND (shared_state_owner_id IS NULL OR shared_state_owner_id = '' OR shared_state_owner_id = $2)`,
		id, ownerID)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("claim task %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("claim task %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("claim task %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ReleaseTask(ctx context.Context, id, ownerID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET shared_state_owner_id = NULL, updated_at = now()
		 WHERE id = $1 AND shared_state_owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("release task %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var metaJSON []byte
	err := row.Scan(&t.ID, &t.Title, &t.Prompt, &t.Status, &t.SharedStateOwnerID,
		&t.ClaimedBy, &t.ExternalID, &t.Labels, &metaJSON, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &t.Meta); err != nil {
			return t, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return t, nil
}
