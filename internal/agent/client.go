package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskpilot/taskpilot/internal/fallback"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// ChatMessage is one entry of the completion request transcript.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a completion-service request to invoke one tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its raw JSON arguments. Arguments
// stay raw here; validation owns parsing them.
type FunctionCall struct {
	Name      string
	Arguments json.RawMessage
}

// On the wire, arguments travel as a JSON-encoded string per the chat
// completions format. Some compatible services send a bare object instead;
// both shapes are accepted on decode.
func (f FunctionCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}{Name: f.Name, Arguments: string(f.Arguments)})
}

func (f *FunctionCall) UnmarshalJSON(data []byte) error {
	var wire struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	f.Name = wire.Name
	if len(wire.Arguments) == 0 {
		f.Arguments = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(wire.Arguments, &s); err == nil {
		f.Arguments = json.RawMessage(s)
	} else {
		f.Arguments = wire.Arguments
	}
	return nil
}

// Completion is one assistant round: free text, tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// CompletionClient is the boundary to the completion service. The HTTP
// implementation below is swapped for a fake in tests.
type CompletionClient interface {
	Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Completion, error)
}

// ClientConfig tunes the HTTP completion client.
type ClientConfig struct {
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client talks to an OpenAI-compatible chat completions endpoint. Calls are
// throttled client-side so a burst of turns degrades to waiting instead of
// upstream 429s.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds the completion client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		logger:  logger,
	}
}

type completionRequest struct {
	Model      string            `json:"model"`
	Messages   []ChatMessage     `json:"messages"`
	Tools      []toolDeclaration `json:"tools,omitempty"`
	ToolChoice string            `json:"tool_choice,omitempty"`
}

type toolDeclaration struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request. The per-call deadline is the
// configured timeout even when the caller's context allows longer; deadline
// overruns surface as fallback.ErrTimeout and HTTP 429 as
// fallback.ErrRateLimited so callers can classify without peeking at
// transport details.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, defs []tools.Definition) (*Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := completionRequest{
		Model:      c.cfg.Model,
		Messages:   messages,
		ToolChoice: "auto",
	}
	for _, d := range defs {
		reqBody.Tools = append(reqBody.Tools, toolDeclaration{
			Type: "function",
			Function: toolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			c.logger.Warn("completion timed out",
				zap.Duration("timeout", c.cfg.Timeout))
			return nil, fallback.ErrTimeout
		}
		return nil, fmt.Errorf("calling completion service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		c.logger.Warn("completion service rate limited")
		return nil, fallback.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("completion response had no choices")
	}

	msg := out.Choices[0].Message
	c.logger.Debug("completion returned",
		zap.Int("content_len", len(msg.Content)),
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.Duration("duration", time.Since(start)))

	return &Completion{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}
