package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/fallback"
	"github.com/taskpilot/taskpilot/internal/tools"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(ClientConfig{
		BaseURL:           baseURL,
		Model:             "test-model",
		Timeout:           timeout,
		RequestsPerSecond: 100,
	}, zap.NewNop())
}

func TestCompleteParsesToolCalls(t *testing.T) {
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "Adding it now.",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "add_task", "arguments": "{\"title\":\"buy milk\"}"}
					}]
				}
			}]
		}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2*time.Second)
	comp, err := client.Complete(context.Background(),
		[]ChatMessage{{Role: "user", Content: "add buy milk"}},
		tools.NewRegistry().Definitions(),
	)
	require.NoError(t, err)

	assert.Equal(t, "Adding it now.", comp.Content)
	require.Len(t, comp.ToolCalls, 1)
	assert.Equal(t, "add_task", comp.ToolCalls[0].Function.Name)

	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, "auto", gotReq.ToolChoice)
	assert.Len(t, gotReq.Tools, 5)
}

func TestCompleteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2*time.Second)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	assert.ErrorIs(t, err, fallback.ErrRateLimited)
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 50*time.Millisecond)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	assert.ErrorIs(t, err, fallback.ErrTimeout)
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, 2*time.Second)
	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, fallback.ErrRateLimited)
}
