package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/tasks"
)

// TaskService is the slice of the task store the executor needs. *tasks.Store
// satisfies it.
type TaskService interface {
	CreateTask(ctx context.Context, ownerID uuid.UUID, params tasks.CreateParams) (*tasks.Task, error)
	ListTasks(ctx context.Context, ownerID uuid.UUID, filter tasks.ListFilter) ([]tasks.Task, error)
	CompleteTask(ctx context.Context, taskID, ownerID uuid.UUID) (*tasks.Task, error)
	DeleteTask(ctx context.Context, taskID, ownerID uuid.UUID) error
	UpdateTask(ctx context.Context, taskID, ownerID uuid.UUID, params tasks.UpdateParams) (*tasks.Task, error)
}

// Result is the outcome of one tool execution. Exactly one of Payload and
// Err is set. A domain failure (missing task, foreign owner) lands in Err as
// a user-presentable string; it is an outcome, not a transport error, so
// Execute still returns nil.
type Result struct {
	ToolName  string                 `json:"tool_name"`
	Arguments json.RawMessage        `json:"arguments,omitempty"`
	Payload   map[string]interface{} `json:"result,omitempty"`
	Err       string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"-"`
}

// OK reports whether the execution produced a payload.
func (r *Result) OK() bool { return r.Err == "" }

// Executor runs validated tool inputs against the task service on behalf of
// one owner per call. It holds no per-call state and is safe for concurrent
// use.
type Executor struct {
	svc    TaskService
	logger *zap.Logger
}

// NewExecutor wires an executor to the task service.
func NewExecutor(svc TaskService, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{svc: svc, logger: logger}
}

// Execute dispatches in on its concrete type, scoped to ownerID. The switch
// is total over the Input variants; an unexpected type means a programming
// error and is returned as one.
//
// Infrastructure failures (database down, context cancelled) come back as a
// non-nil error. Domain failures come back inside the Result.
func (e *Executor) Execute(ctx context.Context, ownerID uuid.UUID, in Input) (*Result, error) {
	start := time.Now()
	res := &Result{ToolName: in.ToolName()}

	var err error
	switch v := in.(type) {
	case AddTaskInput:
		err = e.addTask(ctx, ownerID, v, res)
	case ListTasksInput:
		err = e.listTasks(ctx, ownerID, v, res)
	case CompleteTaskInput:
		err = e.completeTask(ctx, ownerID, v, res)
	case DeleteTaskInput:
		err = e.deleteTask(ctx, ownerID, v, res)
	case UpdateTaskInput:
		err = e.updateTask(ctx, ownerID, v, res)
	default:
		err = errors.New("unhandled tool input type")
	}
	res.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			res.Err = "task not found"
			e.logger.Debug("tool execution: task not found",
				zap.String("tool", res.ToolName),
				zap.String("owner_id", ownerID.String()))
			return res, nil
		}
		e.logger.Error("tool execution failed",
			zap.String("tool", res.ToolName),
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		return nil, err
	}

	e.logger.Debug("tool executed",
		zap.String("tool", res.ToolName),
		zap.String("owner_id", ownerID.String()),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Executor) addTask(ctx context.Context, ownerID uuid.UUID, in AddTaskInput, res *Result) error {
	params := tasks.CreateParams{
		Title:    in.Title,
		Priority: in.Priority,
		DueDate:  in.DueDate,
	}
	if in.Description != nil {
		params.Description = *in.Description
	}
	t, err := e.svc.CreateTask(ctx, ownerID, params)
	if err != nil {
		return err
	}
	res.Payload = taskPayload(t)
	return nil
}

func (e *Executor) listTasks(ctx context.Context, ownerID uuid.UUID, in ListTasksInput, res *Result) error {
	filter := tasks.ListFilter{Status: in.Status, Limit: in.Limit}
	if in.Priority != nil {
		filter.Priority = *in.Priority
	}
	list, err := e.svc.ListTasks(ctx, ownerID, filter)
	if err != nil {
		return err
	}

	items := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		items = append(items, taskPayload(&list[i]))
	}
	res.Payload = map[string]interface{}{
		"count":           len(items),
		"tasks":           items,
		"status_filter":   in.Status,
		"priority_filter": filter.Priority,
	}
	return nil
}

func (e *Executor) completeTask(ctx context.Context, ownerID uuid.UUID, in CompleteTaskInput, res *Result) error {
	t, err := e.svc.CompleteTask(ctx, in.TaskID, ownerID)
	if err != nil {
		return err
	}
	res.Payload = map[string]interface{}{
		"id":           t.ID.String(),
		"status":       t.Status(),
		"completed_at": isoTime(t.CompletedAt),
	}
	return nil
}

func (e *Executor) deleteTask(ctx context.Context, ownerID uuid.UUID, in DeleteTaskInput, res *Result) error {
	if err := e.svc.DeleteTask(ctx, in.TaskID, ownerID); err != nil {
		return err
	}
	res.Payload = map[string]interface{}{
		"id":         in.TaskID.String(),
		"deleted":    true,
		"deleted_at": time.Now().UTC().Format(time.RFC3339),
	}
	return nil
}

func (e *Executor) updateTask(ctx context.Context, ownerID uuid.UUID, in UpdateTaskInput, res *Result) error {
	params := tasks.UpdateParams{
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
	}
	t, err := e.svc.UpdateTask(ctx, in.TaskID, ownerID, params)
	if err != nil {
		return err
	}
	res.Payload = taskPayload(t)
	return nil
}

func taskPayload(t *tasks.Task) map[string]interface{} {
	p := map[string]interface{}{
		"id":         t.ID.String(),
		"title":      t.Title,
		"status":     t.Status(),
		"priority":   t.Priority,
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Description != nil {
		p["description"] = *t.Description
	} else {
		p["description"] = ""
	}
	if due := isoTime(t.DueDate); due != nil {
		p["due_date"] = due
	}
	return p
}

func isoTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
