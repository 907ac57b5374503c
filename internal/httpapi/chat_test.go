package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/fallback"
)

type fakeEngine struct {
	result *agent.TurnResult
	err    error
	calls  int

	lastConversation uuid.UUID
	lastOwner        uuid.UUID
	lastMessage      string
}

func (f *fakeEngine) ProcessTurn(_ context.Context, conversationID, ownerID uuid.UUID, userMessage string) (*agent.TurnResult, error) {
	f.calls++
	f.lastConversation = conversationID
	f.lastOwner = ownerID
	f.lastMessage = userMessage
	return f.result, f.err
}

func successResult(conversationID uuid.UUID) *agent.TurnResult {
	return &agent.TurnResult{
		Success:        true,
		ConversationID: conversationID,
		Response:       "Done!",
	}
}

func chatRequestBody(conversationID uuid.UUID, message string) *strings.Reader {
	body, _ := json.Marshal(map[string]string{
		"conversation_id": conversationID.String(),
		"message":         message,
	})
	return strings.NewReader(string(body))
}

func doChat(t *testing.T, engine ChatEngine, userID uuid.UUID, body *strings.Reader) *httptest.ResponseRecorder {
	t.Helper()
	h := NewChatHandlers(engine, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/"+userID.String()+"/chat", body)
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, userID))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)
	return rec
}

func TestChatSuccess(t *testing.T) {
	userID, conversationID := uuid.New(), uuid.New()
	engine := &fakeEngine{result: successResult(conversationID)}

	rec := doChat(t, engine, userID, chatRequestBody(conversationID, "  add   buy milk  "))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, conversationID, engine.lastConversation)
	assert.Equal(t, userID, engine.lastOwner)
	// Whitespace is collapsed before the engine sees the message.
	assert.Equal(t, "add buy milk", engine.lastMessage)

	var res agent.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "Done!", res.Response)
}

func TestChatOversizedMessageRejectedBeforeEngine(t *testing.T) {
	userID, conversationID := uuid.New(), uuid.New()
	engine := &fakeEngine{result: successResult(conversationID)}

	oversized := strings.Repeat("a", MaxMessageLength+1)
	rec := doChat(t, engine, userID, chatRequestBody(conversationID, oversized))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, engine.calls)
	assert.Contains(t, rec.Body.String(), "4096")
}

func TestChatEmptyMessage(t *testing.T) {
	userID, conversationID := uuid.New(), uuid.New()
	engine := &fakeEngine{result: successResult(conversationID)}

	for _, msg := range []string{"", "   ", "\n\t "} {
		rec := doChat(t, engine, userID, chatRequestBody(conversationID, msg))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "message %q", msg)
	}
	assert.Zero(t, engine.calls)
}

func TestChatInvalidConversationID(t *testing.T) {
	userID := uuid.New()
	engine := &fakeEngine{}

	body := strings.NewReader(`{"conversation_id":"not-a-uuid","message":"hi"}`)
	rec := doChat(t, engine, userID, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, engine.calls)
}

func TestChatStripsMarkup(t *testing.T) {
	userID, conversationID := uuid.New(), uuid.New()
	engine := &fakeEngine{result: successResult(conversationID)}

	rec := doChat(t, engine, userID, chatRequestBody(conversationID, `list tasks <script>alert("x")</script>please`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, engine.lastMessage, "script")
	assert.Contains(t, engine.lastMessage, "list tasks")
}

func TestChatFailureStatusMapping(t *testing.T) {
	tests := []struct {
		kind       fallback.Kind
		wantStatus int
	}{
		{fallback.KindNotFound, http.StatusNotFound},
		{fallback.KindTimeout, http.StatusServiceUnavailable},
		{fallback.KindRateLimited, http.StatusServiceUnavailable},
		{fallback.KindDatabase, http.StatusInternalServerError},
		{fallback.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			userID, conversationID := uuid.New(), uuid.New()
			engine := &fakeEngine{
				result: &agent.TurnResult{
					Success:        false,
					ConversationID: conversationID,
					Response:       fallback.For(tt.kind, nil),
					ErrorKind:      tt.kind,
				},
				err: fmt.Errorf("turn failed: %s", tt.kind),
			}

			rec := doChat(t, engine, userID, chatRequestBody(conversationID, "hello"))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var res agent.TurnResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.False(t, res.Success)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.NotEmpty(t, res.Response)
		})
	}
}

func TestIdentityMiddleware(t *testing.T) {
	userID := uuid.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := userIDFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, userID, got)
		w.WriteHeader(http.StatusOK)
	})

	mux := http.NewServeMux()
	mux.Handle("POST /api/{userID}/echo", Identity(zap.NewNop())(next))

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/"+userID.String()+"/echo", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/"+userID.String()+"/echo", nil)
		req.Header.Set("X-User-ID", "bob")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("path mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/"+uuid.New().String()+"/echo", nil)
		req.Header.Set("X-User-ID", userID.String())
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("matching identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/"+userID.String()+"/echo", nil)
		req.Header.Set("X-User-ID", userID.String())
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestListConversationsLimitValidation(t *testing.T) {
	h := NewChatHandlers(&fakeEngine{}, nil, zap.NewNop())
	userID := uuid.New()

	for _, limit := range []string{"0", "101", "-5", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/"+userID.String()+"/conversations?limit="+limit, nil)
		req = req.WithContext(context.WithValue(req.Context(), userIDKey, userID))
		rec := httptest.NewRecorder()
		h.ListConversations(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", limit)
	}
}
