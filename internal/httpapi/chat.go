package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/conversation"
)

// ChatEngine processes one chat turn. *agent.Orchestrator satisfies it.
type ChatEngine interface {
	ProcessTurn(ctx context.Context, conversationID, ownerID uuid.UUID, userMessage string) (*agent.TurnResult, error)
}

// ChatHandlers serves the chat and conversation endpoints.
type ChatHandlers struct {
	engine        ChatEngine
	conversations *conversation.Store
	logger        *zap.Logger
}

// NewChatHandlers wires the chat endpoints.
func NewChatHandlers(engine ChatEngine, conversations *conversation.Store, logger *zap.Logger) *ChatHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandlers{engine: engine, conversations: conversations, logger: logger}
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type createConversationResponse struct {
	Success        bool      `json:"success"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Title          string    `json:"title"`
}

type conversationSummary struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listConversationsResponse struct {
	Success       bool                  `json:"success"`
	Conversations []conversationSummary `json:"conversations"`
	Count         int                   `json:"count"`
}

// Chat handles POST /api/{userID}/chat. Oversized or empty messages are
// rejected here, before anything touches the store.
func (h *ChatHandlers) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	message, err := sanitizeMessage(req.Message)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "conversation_id must be a valid UUID")
		return
	}

	result, err := h.engine.ProcessTurn(r.Context(), conversationID, userID, message)
	if err != nil {
		logRequestError(h.logger, "chat", err)
	}
	if !result.Success {
		sendJSON(w, statusForKind(result.ErrorKind), result)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

// CreateConversation handles POST /api/{userID}/conversations.
func (h *ChatHandlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	var req createConversationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
			return
		}
	}

	title, err := sanitizeTitle(req.Title)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_title", err.Error())
		return
	}

	conv, err := h.conversations.CreateConversation(r.Context(), userID, title)
	if err != nil {
		logRequestError(h.logger, "create_conversation", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "failed to create conversation")
		return
	}

	sendJSON(w, http.StatusCreated, createConversationResponse{
		Success:        true,
		ConversationID: conv.ID,
		Title:          conv.Title,
	})
}

// ListConversations handles GET /api/{userID}/conversations. The limit query
// parameter must be in [1,100] when present.
func (h *ChatHandlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			sendError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer between 1 and 100")
			return
		}
		limit = n
	}

	convs, err := h.conversations.ListConversations(r.Context(), userID, limit)
	if err != nil {
		logRequestError(h.logger, "list_conversations", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "failed to list conversations")
		return
	}

	summaries := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, conversationSummary{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	sendJSON(w, http.StatusOK, listConversationsResponse{
		Success:       true,
		Conversations: summaries,
		Count:         len(summaries),
	})
}

// DeleteConversation handles DELETE /api/{userID}/conversations/{conversationID}.
func (h *ChatHandlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		sendError(w, http.StatusUnauthorized, "unauthorized", "missing authenticated user")
		return
	}

	conversationID, err := uuid.Parse(r.PathValue("conversationID"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid_request", "conversation ID must be a valid UUID")
		return
	}

	if err := h.conversations.DeleteConversation(r.Context(), conversationID, userID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			sendError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		logRequestError(h.logger, "delete_conversation", err)
		sendError(w, http.StatusInternalServerError, "internal_error", "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
