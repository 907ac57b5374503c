package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/taskpilot/taskpilot/internal/tasks"
)

// Field length limits shared with the tasks schema.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1024

	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ValidationError reports which argument failed and why. The reason is safe
// to feed back to the completion service as a correction hint.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Tool, e.Field, e.Reason)
}

// Input is the validated form of one tool call's arguments. Exactly five
// concrete types implement it, one per catalogue entry; the executor
// dispatches on the concrete type with a total switch.
type Input interface {
	ToolName() string
}

// AddTaskInput carries validated add_task arguments.
type AddTaskInput struct {
	Title       string
	Description *string
	Priority    string
	DueDate     *time.Time
}

func (AddTaskInput) ToolName() string { return ToolAddTask }

// ListTasksInput carries validated list_tasks arguments.
type ListTasksInput struct {
	Status   string
	Priority *string
	Limit    int
}

func (ListTasksInput) ToolName() string { return ToolListTasks }

// CompleteTaskInput carries a validated complete_task target.
type CompleteTaskInput struct {
	TaskID uuid.UUID
}

func (CompleteTaskInput) ToolName() string { return ToolCompleteTask }

// DeleteTaskInput carries a validated delete_task target.
type DeleteTaskInput struct {
	TaskID uuid.UUID
}

func (DeleteTaskInput) ToolName() string { return ToolDeleteTask }

// UpdateTaskInput carries validated update_task arguments. Nil fields are
// left untouched by the executor.
type UpdateTaskInput struct {
	TaskID      uuid.UUID
	Title       *string
	Description *string
	Priority    *string
	DueDate     *time.Time
}

func (UpdateTaskInput) ToolName() string { return ToolUpdateTask }

// Validate checks raw arguments against the named tool's schema and returns
// the typed input. It is a pure function of its arguments: validating the
// same payload twice yields the same result with no side effects.
//
// An unknown name yields ErrUnknownTool; any schema violation yields a
// *ValidationError naming the offending field.
func (r *Registry) Validate(name string, raw json.RawMessage) (Input, error) {
	if _, ok := r.defs[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	switch name {
	case ToolAddTask:
		return validateAddTask(raw)
	case ToolListTasks:
		return validateListTasks(raw)
	case ToolCompleteTask:
		id, err := validateTaskID(ToolCompleteTask, raw)
		if err != nil {
			return nil, err
		}
		return CompleteTaskInput{TaskID: id}, nil
	case ToolDeleteTask:
		id, err := validateTaskID(ToolDeleteTask, raw)
		if err != nil {
			return nil, err
		}
		return DeleteTaskInput{TaskID: id}, nil
	case ToolUpdateTask:
		return validateUpdateTask(raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

type rawTaskArgs struct {
	TaskID      *string `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	Status      *string `json:"status"`
	Limit       *int    `json:"limit"`
}

func decodeArgs(tool string, raw json.RawMessage) (*rawTaskArgs, error) {
	var args rawTaskArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ValidationError{Tool: tool, Field: "arguments", Reason: "arguments must be a JSON object"}
	}
	return &args, nil
}

func validateAddTask(raw json.RawMessage) (Input, error) {
	args, err := decodeArgs(ToolAddTask, raw)
	if err != nil {
		return nil, err
	}

	if args.Title == nil {
		return nil, &ValidationError{Tool: ToolAddTask, Field: "title", Reason: "required"}
	}
	title := strings.TrimSpace(*args.Title)
	if title == "" {
		return nil, &ValidationError{Tool: ToolAddTask, Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, &ValidationError{Tool: ToolAddTask, Field: "title", Reason: fmt.Sprintf("exceeds %d characters", MaxTitleLength)}
	}

	in := AddTaskInput{Title: title, Priority: tasks.PriorityMedium}

	if args.Description != nil {
		desc := strings.TrimSpace(*args.Description)
		if utf8.RuneCountInString(desc) > MaxDescriptionLength {
			return nil, &ValidationError{Tool: ToolAddTask, Field: "description", Reason: fmt.Sprintf("exceeds %d characters", MaxDescriptionLength)}
		}
		if desc != "" {
			in.Description = &desc
		}
	}
	if args.Priority != nil {
		p, verr := parsePriority(ToolAddTask, *args.Priority)
		if verr != nil {
			return nil, verr
		}
		in.Priority = p
	}
	if args.DueDate != nil && strings.TrimSpace(*args.DueDate) != "" {
		due, verr := parseDueDate(ToolAddTask, *args.DueDate)
		if verr != nil {
			return nil, verr
		}
		in.DueDate = &due
	}
	return in, nil
}

func validateListTasks(raw json.RawMessage) (Input, error) {
	args, err := decodeArgs(ToolListTasks, raw)
	if err != nil {
		return nil, err
	}

	in := ListTasksInput{Status: tasks.StatusAll, Limit: DefaultListLimit}

	if args.Status != nil {
		switch *args.Status {
		case tasks.StatusAll, tasks.StatusPending, tasks.StatusCompleted:
			in.Status = *args.Status
		default:
			return nil, &ValidationError{Tool: ToolListTasks, Field: "status", Reason: "must be one of: all, pending, completed"}
		}
	}
	if args.Priority != nil {
		p, verr := parsePriority(ToolListTasks, *args.Priority)
		if verr != nil {
			return nil, verr
		}
		in.Priority = &p
	}
	if args.Limit != nil {
		if *args.Limit < 1 || *args.Limit > MaxListLimit {
			return nil, &ValidationError{Tool: ToolListTasks, Field: "limit", Reason: fmt.Sprintf("must be between 1 and %d", MaxListLimit)}
		}
		in.Limit = *args.Limit
	}
	return in, nil
}

func validateTaskID(tool string, raw json.RawMessage) (uuid.UUID, error) {
	args, err := decodeArgs(tool, raw)
	if err != nil {
		return uuid.Nil, err
	}
	if args.TaskID == nil || strings.TrimSpace(*args.TaskID) == "" {
		return uuid.Nil, &ValidationError{Tool: tool, Field: "task_id", Reason: "required"}
	}
	id, perr := uuid.Parse(strings.TrimSpace(*args.TaskID))
	if perr != nil {
		return uuid.Nil, &ValidationError{Tool: tool, Field: "task_id", Reason: "must be a valid UUID"}
	}
	return id, nil
}

func validateUpdateTask(raw json.RawMessage) (Input, error) {
	id, err := validateTaskID(ToolUpdateTask, raw)
	if err != nil {
		return nil, err
	}
	args, err := decodeArgs(ToolUpdateTask, raw)
	if err != nil {
		return nil, err
	}

	in := UpdateTaskInput{TaskID: id}
	changed := false

	if args.Title != nil {
		title := strings.TrimSpace(*args.Title)
		if title == "" {
			return nil, &ValidationError{Tool: ToolUpdateTask, Field: "title", Reason: "must not be empty"}
		}
		if utf8.RuneCountInString(title) > MaxTitleLength {
			return nil, &ValidationError{Tool: ToolUpdateTask, Field: "title", Reason: fmt.Sprintf("exceeds %d characters", MaxTitleLength)}
		}
		in.Title = &title
		changed = true
	}
	if args.Description != nil {
		desc := strings.TrimSpace(*args.Description)
		if utf8.RuneCountInString(desc) > MaxDescriptionLength {
			return nil, &ValidationError{Tool: ToolUpdateTask, Field: "description", Reason: fmt.Sprintf("exceeds %d characters", MaxDescriptionLength)}
		}
		in.Description = &desc
		changed = true
	}
	if args.Priority != nil {
		p, verr := parsePriority(ToolUpdateTask, *args.Priority)
		if verr != nil {
			return nil, verr
		}
		in.Priority = &p
		changed = true
	}
	if args.DueDate != nil && strings.TrimSpace(*args.DueDate) != "" {
		due, verr := parseDueDate(ToolUpdateTask, *args.DueDate)
		if verr != nil {
			return nil, verr
		}
		in.DueDate = &due
		changed = true
	}
	if !changed {
		return nil, &ValidationError{Tool: ToolUpdateTask, Field: "arguments", Reason: "at least one field to update is required"}
	}
	return in, nil
}

func parsePriority(tool, value string) (string, *ValidationError) {
	switch value {
	case tasks.PriorityLow, tasks.PriorityMedium, tasks.PriorityHigh:
		return value, nil
	default:
		return "", &ValidationError{Tool: tool, Field: "priority", Reason: "must be one of: low, medium, high"}
	}
}

// parseDueDate accepts RFC 3339 timestamps and bare dates.
func parseDueDate(tool, value string) (time.Time, *ValidationError) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Tool: tool, Field: "due_date", Reason: "must be an ISO 8601 date or timestamp"}
}
