package tasks

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// List status filters.
const (
	StatusAll       = "all"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// ErrNotFound covers both a missing task and one owned by another user.
var ErrNotFound = errors.New("task not found")

// Task is one to-do item owned by exactly one user.
type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OwnerID     uuid.UUID  `db:"owner_id" json:"owner_id"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description,omitempty"`
	Priority    string     `db:"priority" json:"priority"`
	DueDate     *time.Time `db:"due_date" json:"due_date,omitempty"`
	Completed   bool       `db:"completed" json:"completed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Status reports the task's list-filter status.
func (t *Task) Status() string {
	if t.Completed {
		return StatusCompleted
	}
	return StatusPending
}

// CreateParams are the fields accepted when creating a task.
type CreateParams struct {
	Title       string
	Description string
	Priority    string
	DueDate     *time.Time
}

// ListFilter narrows ListTasks results.
type ListFilter struct {
	Status   string // all, pending, completed; empty means all
	Priority string // low, medium, high; empty means any
	Limit    int
}

// UpdateParams carries the optional fields of an update; nil means leave the
// field unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *time.Time
}
