package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/tasks"
)

// TaskHandlers serves the direct task CRUD endpoints. The chat loop drives
// the same store through tools; this surface exists for non-conversational
// clients.
type TaskHandlers struct {
	store  *tasks.Store
	logger *zap.Logger
}

// NewTaskHandlers wires the task endpoints.
func NewTaskHandlers(store *tasks.Store, logger *zap.Logger) *TaskHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandlers{store: store, logger: logger}
}

type taskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
}

type taskResponse struct {
	Success bool        `json:"success"`
	Task    *tasks.Task `json:"task,omitempty"`
}

type listTasksResponse struct {
	Success bool         `json:"success"`
	Tasks   []tasks.Task `json:"tasks"`
	Count   int          `json:"count"`
}

func parseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(*raw)); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("due_date must be an ISO 8601 date or timestamp")
}

func validPriority(p string) bool {
	switch p {
	case tasks.PriorityLow, tasks.PriorityMedium, tasks.PriorityHigh:
		return true
	}
	return false
}

// Create handles POST /api/{userID}/tasks.
func (h *TaskHandlers) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		sendError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	title := strings.TrimSpace(*req.Title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		sendError(w, http.StatusBadRequest, "invalid_request", "title exceeds 200 characters")
		return
	}

	params := tasks.CreateParams{Title: title, Priority: tasks.PriorityMedium}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if utf8.RuneCountInString(desc) > 1024 {
			sendError(w, http.StatusBadRequest, "invalid_request", "description exceeds 1024 characters")
			return
		}
		params.Description = desc
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			sendError(w, http.StatusBadRequest, "invalid_request", "priority must be one of: low, medium, high")
			return
		}
		params.Priority = *req.Priority
	}
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	params.DueDate = due

	task, err := h.store.CreateTask(r.Context(), userID, params)
	if err != nil {
		logRequestError(h.logger, "create_task", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "failed to create task")
		return
	}
	sendJSON(w, http.StatusCreated, taskResponse{Success: true, Task: task})
}

// List handles GET /api/{userID}/tasks with status, priority, and limit
// query parameters.
func (h *TaskHandlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	filter := tasks.ListFilter{Status: tasks.StatusAll, Limit: 20}
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		switch status {
		case tasks.StatusAll, tasks.StatusPending, tasks.StatusCompleted:
			filter.Status = status
		default:
			sendError(w, http.StatusBadRequest, "invalid_request", "status must be one of: all, pending, completed")
			return
		}
	}
	if priority := q.Get("priority"); priority != "" {
		if !validPriority(priority) {
			sendError(w, http.StatusBadRequest, "invalid_request", "priority must be one of: low, medium, high")
			return
		}
		filter.Priority = priority
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			sendError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer between 1 and 100")
			return
		}
		filter.Limit = n
	}

	list, err := h.store.ListTasks(r.Context(), userID, filter)
	if err != nil {
		logRequestError(h.logger, "list_tasks", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	sendJSON(w, http.StatusOK, listTasksResponse{Success: true, Tasks: list, Count: len(list)})
}

// Get handles GET /api/{userID}/tasks/{taskID}.
func (h *TaskHandlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskTarget(w, r)
	if !ok {
		return
	}
	task, err := h.store.GetTask(r.Context(), taskID, userID)
	if err != nil {
		h.taskError(w, "get_task", err)
		return
	}
	sendJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// Update handles PATCH /api/{userID}/tasks/{taskID}.
func (h *TaskHandlers) Update(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskTarget(w, r)
	if !ok {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	params := tasks.UpdateParams{}
	changed := false
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
			sendError(w, http.StatusBadRequest, "invalid_request", "title must be 1-200 characters")
			return
		}
		params.Title = &title
		changed = true
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if utf8.RuneCountInString(desc) > 1024 {
			sendError(w, http.StatusBadRequest, "invalid_request", "description exceeds 1024 characters")
			return
		}
		params.Description = &desc
		changed = true
	}
	if req.Priority != nil {
		if !validPriority(*req.Priority) {
			sendError(w, http.StatusBadRequest, "invalid_request", "priority must be one of: low, medium, high")
			return
		}
		params.Priority = req.Priority
		changed = true
	}
	due, err := parseOptionalDate(req.DueDate)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if due != nil {
		params.DueDate = due
		changed = true
	}
	if !changed {
		sendError(w, http.StatusBadRequest, "invalid_request", "at least one field to update is required")
		return
	}

	task, err := h.store.UpdateTask(r.Context(), taskID, userID, params)
	if err != nil {
		h.taskError(w, "update_task", err)
		return
	}
	sendJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// Complete handles POST /api/{userID}/tasks/{taskID}/complete.
func (h *TaskHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskTarget(w, r)
	if !ok {
		return
	}
	task, err := h.store.CompleteTask(r.Context(), taskID, userID)
	if err != nil {
		h.taskError(w, "complete_task", err)
		return
	}
	sendJSON(w, http.StatusOK, taskResponse{Success: true, Task: task})
}

// Delete handles DELETE /api/{userID}/tasks/{taskID}.
func (h *TaskHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskTarget(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteTask(r.Context(), taskID, userID); err != nil {
		h.taskError(w, "delete_task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandlers) taskTarget(w http.ResponseWriter, r *http.Request) (userID, taskID uuid.UUID, ok bool) {
	userID, found := userIDFrom(r.Context())
	if !found {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return uuid.Nil, uuid.Nil, false
	}
	taskID, err := uuid.Parse(r.PathValue("taskID"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "task ID must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, taskID, true
}

func (h *TaskHandlers) taskError(w http.ResponseWriter, route string, err error) {
	if errors.Is(err, tasks.ErrNotFound) {
		sendError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	logRequestError(h.logger, route, err)
	sendError(w, http.StatusInternalServerError, "internal_error", "operation failed")
}
