package tools

import "errors"

// Tool names. The set is fixed; adding a tool means a new Input variant, a
// new Definition here, and a new Executor case — never a runtime mutation.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolDeleteTask   = "delete_task"
	ToolUpdateTask   = "update_task"
)

// ErrUnknownTool is returned for names outside the catalogue. It is a
// distinct condition from argument validation failure: the orchestration
// loop drops unknown-tool calls instead of surfacing a validation hint.
var ErrUnknownTool = errors.New("tool not found")

// Definition describes one callable tool for the completion service's
// catalogue. InputSchema is a JSON-Schema object.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"json_schema"`
}

// Registry is the static catalogue of the five task tools. Construct once at
// process start and pass by reference; it is read-only after creation.
type Registry struct {
	order []string
	defs  map[string]Definition
}

// NewRegistry builds the catalogue.
func NewRegistry() *Registry {
	defs := []Definition{
		{
			Name:        ToolAddTask,
			Description: "Create a new task with title and optional description",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Task title (required, max 200 chars)",
						"maxLength":   200,
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "Task description (optional, max 1024 chars)",
						"maxLength":   1024,
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"low", "medium", "high"},
						"description": "Task priority (default: medium)",
					},
					"due_date": map[string]interface{}{
						"type":        "string",
						"description": "Due date in ISO format (optional)",
					},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        ToolListTasks,
			Description: "List user's tasks with optional filters",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"all", "pending", "completed"},
						"description": "Filter by status (default: all)",
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"low", "medium", "high"},
						"description": "Filter by priority (optional)",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Max tasks to return (default: 20, max: 100)",
						"minimum":     1,
						"maximum":     100,
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        ToolCompleteTask,
			Description: "Mark a task as completed",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID of task to complete",
					},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        ToolDeleteTask,
			Description: "Delete a task permanently",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID of task to delete",
					},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        ToolUpdateTask,
			Description: "Update task details (title, description, priority, or due_date)",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID of task to update",
					},
					"title": map[string]interface{}{
						"type":        "string",
						"description": "New task title (optional, max 200 chars)",
						"maxLength":   200,
					},
					"description": map[string]interface{}{
						"type":        "string",
						"description": "New description (optional, max 1024 chars)",
						"maxLength":   1024,
					},
					"priority": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"low", "medium", "high"},
						"description": "New priority (optional)",
					},
					"due_date": map[string]interface{}{
						"type":        "string",
						"description": "New due date in ISO format (optional)",
					},
				},
				"required": []string{"task_id"},
			},
		},
	}

	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.order = append(r.order, d.Name)
		r.defs[d.Name] = d
	}
	return r
}

// Definitions returns the catalogue in stable order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Names returns the tool names in stable order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}
