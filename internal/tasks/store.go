package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/db"
)

// Store persists tasks. Every operation takes the owner's id in its
// signature; there is no way to reach another user's rows.
type Store struct {
	db     *db.Client
	logger *zap.Logger
}

// NewStore creates a task store.
func NewStore(client *db.Client, logger *zap.Logger) *Store {
	return &Store{db: client, logger: logger}
}

// CreateTask inserts a new pending task for ownerID.
func (s *Store) CreateTask(ctx context.Context, ownerID uuid.UUID, params CreateParams) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     params.Title,
		Priority:  params.Priority,
		DueDate:   params.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if params.Description != "" {
		desc := params.Description
		task.Description = &desc
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, title, description, priority, due_date, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)`,
		task.ID, task.OwnerID, task.Title, task.Description, task.Priority, task.DueDate,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("Task created",
		zap.String("task_id", task.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("priority", task.Priority),
	)
	return task, nil
}

// GetTask fetches a task only when ownerID owns it.
func (s *Store) GetTask(ctx context.Context, taskID, ownerID uuid.UUID) (*Task, error) {
	var task Task
	err := s.db.DB().GetContext(ctx, &task, `
		SELECT id, owner_id, title, description, priority, due_date, completed, created_at, updated_at, completed_at
		FROM tasks
		WHERE id = $1 AND owner_id = $2`,
		taskID, ownerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ListTasks returns the owner's tasks, newest first, narrowed by filter.
func (s *Store) ListTasks(ctx context.Context, ownerID uuid.UUID, filter ListFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var conds []string
	args := []interface{}{ownerID}
	conds = append(conds, "owner_id = $1")

	switch filter.Status {
	case StatusPending:
		conds = append(conds, "completed = FALSE")
	case StatusCompleted:
		conds = append(conds, "completed = TRUE")
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, owner_id, title, description, priority, due_date, completed, created_at, updated_at, completed_at
		FROM tasks
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`,
		strings.Join(conds, " AND "), len(args),
	)

	tasks := []Task{}
	if err := s.db.DB().SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask applies the non-nil fields of params to an owned task.
func (s *Store) UpdateTask(ctx context.Context, taskID, ownerID uuid.UUID, params UpdateParams) (*Task, error) {
	sets := []string{"updated_at = $3"}
	args := []interface{}{taskID, ownerID, time.Now().UTC()}

	if params.Title != nil {
		args = append(args, *params.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if params.Description != nil {
		args = append(args, *params.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if params.Priority != nil {
		args = append(args, *params.Priority)
		sets = append(sets, fmt.Sprintf("priority = $%d", len(args)))
	}
	if params.DueDate != nil {
		args = append(args, *params.DueDate)
		sets = append(sets, fmt.Sprintf("due_date = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET %s
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, description, priority, due_date, completed, created_at, updated_at, completed_at`,
		strings.Join(sets, ", "),
	)

	var task Task
	err := s.db.DB().GetContext(ctx, &task, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return &task, nil
}

// CompleteTask marks an owned task as done.
func (s *Store) CompleteTask(ctx context.Context, taskID, ownerID uuid.UUID) (*Task, error) {
	now := time.Now().UTC()

	var task Task
	err := s.db.DB().GetContext(ctx, &task, `
		UPDATE tasks SET completed = TRUE, completed_at = $3, updated_at = $3
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, description, priority, due_date, completed, created_at, updated_at, completed_at`,
		taskID, ownerID, now,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	s.logger.Info("Task completed",
		zap.String("task_id", taskID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return &task, nil
}

// DeleteTask removes an owned task permanently.
func (s *Store) DeleteTask(ctx context.Context, taskID, ownerID uuid.UUID) error {
	res, err := s.db.DB().ExecContext(ctx, `
		DELETE FROM tasks WHERE id = $1 AND owner_id = $2`,
		taskID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Task deleted",
		zap.String("task_id", taskID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return nil
}
