package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/fallback"
	"github.com/taskpilot/taskpilot/internal/metrics"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// Loop bounds. The completion service is called at most MaxRetries+1 times
// per turn; every round past the first exists only to let the model react to
// tool results.
const (
	MaxHistory          = 50
	MaxToolCallsPerTurn = 5
	MaxRetries          = 2
)

// ConversationStore is the slice of the conversation layer the orchestrator
// needs. *conversation.Store satisfies it.
type ConversationStore interface {
	GetOwnedConversation(ctx context.Context, conversationID, ownerID uuid.UUID) (*conversation.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, ownerID uuid.UUID, role, content string, toolCalls conversation.ToolCallList) (*conversation.Message, error)
	RecentMessages(ctx context.Context, conversationID, ownerID uuid.UUID, limit int) ([]conversation.Message, error)
}

// ToolRunner executes one validated tool input. *tools.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, ownerID uuid.UUID, in tools.Input) (*tools.Result, error)
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	Success           bool                          `json:"success"`
	ConversationID    uuid.UUID                     `json:"conversation_id"`
	Response          string                        `json:"response"`
	ToolCallsExecuted []conversation.ToolCallRecord `json:"tool_calls_executed"`
	MessageCount      int                           `json:"message_count"`
	ExecutionTimeMs   int64                         `json:"execution_time_ms"`
	ErrorKind         fallback.Kind                 `json:"error,omitempty"`
}

// Orchestrator drives the tool-calling loop for chat turns. It holds no
// per-turn state: every turn loads its context from the store and leaves
// nothing behind, so any replica can serve any turn.
type Orchestrator struct {
	store    ConversationStore
	registry *tools.Registry
	runner   ToolRunner
	client   CompletionClient
	logger   *zap.Logger

	maxHistory   int
	maxToolCalls int
	maxRetries   int
}

// Options override the loop bounds; zero values keep the defaults.
type Options struct {
	MaxHistory          int
	MaxToolCallsPerTurn int
	MaxRetries          int
}

// NewOrchestrator wires the loop.
func NewOrchestrator(store ConversationStore, registry *tools.Registry, runner ToolRunner, client CompletionClient, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:        store,
		registry:     registry,
		runner:       runner,
		client:       client,
		logger:       logger,
		maxHistory:   MaxHistory,
		maxToolCalls: MaxToolCallsPerTurn,
		maxRetries:   MaxRetries,
	}
	if opts.MaxHistory > 0 {
		o.maxHistory = opts.MaxHistory
	}
	if opts.MaxToolCallsPerTurn > 0 {
		o.maxToolCalls = opts.MaxToolCallsPerTurn
	}
	if opts.MaxRetries > 0 {
		o.maxRetries = opts.MaxRetries
	}
	return o
}

// ProcessTurn runs one user message through the tool-calling loop.
//
// Persistence order within a turn: the user message first; then, per tool
// round, one assistant message recording the tool-call intent followed by one
// tool message per executed call; finally the closing assistant message when
// a round comes back without tool calls. If the round budget runs out while
// the model is still requesting tools, the last assistant text is returned
// as-is — it was already persisted as that round's intent message.
//
// On failure the returned result carries the fallback response and error
// kind, and err holds the cause for logging; result is never nil.
func (o *Orchestrator) ProcessTurn(ctx context.Context, conversationID, ownerID uuid.UUID, userMessage string) (*TurnResult, error) {
	start := time.Now()

	res, err := o.processTurn(ctx, conversationID, ownerID, userMessage, start)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	if res.Success {
		metrics.TurnsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.TurnsTotal.WithLabelValues(string(res.ErrorKind)).Inc()
		metrics.FallbacksTotal.WithLabelValues(string(res.ErrorKind)).Inc()
	}
	return res, err
}

func (o *Orchestrator) processTurn(ctx context.Context, conversationID, ownerID uuid.UUID, userMessage string, start time.Time) (*TurnResult, error) {
	log := o.logger.With(
		zap.String("conversation_id", conversationID.String()),
		zap.String("owner_id", ownerID.String()),
	)

	if _, err := o.store.GetOwnedConversation(ctx, conversationID, ownerID); err != nil {
		log.Warn("turn rejected: conversation lookup failed", zap.Error(err))
		return o.failure(conversationID, err), err
	}

	if _, err := o.store.AppendMessage(ctx, conversationID, ownerID, conversation.RoleUser, userMessage, nil); err != nil {
		log.Error("persisting user message failed", zap.Error(err))
		return o.failure(conversationID, err), err
	}

	history, err := o.store.RecentMessages(ctx, conversationID, ownerID, o.maxHistory)
	if err != nil {
		log.Error("loading history failed", zap.Error(err))
		return o.failure(conversationID, err), err
	}

	transcript := make([]ChatMessage, 0, len(history)+1)
	transcript = append(transcript, ChatMessage{Role: "system", Content: SystemPrompt(o.registry.Names())})
	for _, m := range history {
		transcript = append(transcript, ChatMessage{Role: m.Role, Content: m.Content})
	}

	defs := o.registry.Definitions()
	executed := []conversation.ToolCallRecord{}
	appended := 0 // messages persisted after history was loaded
	lastAssistant := ""

	rounds := 0
	for round := 0; round <= o.maxRetries; round++ {
		rounds++
		comp, err := o.client.Complete(ctx, transcript, defs)
		if err != nil {
			log.Warn("completion call failed", zap.Int("round", round), zap.Error(err))
			metrics.CompletionRounds.Observe(float64(rounds))
			return o.failure(conversationID, err), err
		}

		if len(comp.ToolCalls) == 0 {
			if _, err := o.store.AppendMessage(ctx, conversationID, ownerID, conversation.RoleAssistant, comp.Content, nil); err != nil {
				log.Error("persisting assistant message failed", zap.Error(err))
				metrics.CompletionRounds.Observe(float64(rounds))
				return o.failure(conversationID, err), err
			}
			appended++
			metrics.CompletionRounds.Observe(float64(rounds))
			log.Info("turn completed",
				zap.Int("rounds", rounds),
				zap.Int("tools_executed", len(executed)),
				zap.Duration("duration", time.Since(start)))
			return &TurnResult{
				Success:           true,
				ConversationID:    conversationID,
				Response:          comp.Content,
				ToolCallsExecuted: executed,
				MessageCount:      len(history) + appended,
			}, nil
		}

		calls := comp.ToolCalls
		if len(calls) > o.maxToolCalls {
			log.Warn("tool call budget exceeded, dropping excess",
				zap.Int("requested", len(calls)),
				zap.Int("kept", o.maxToolCalls))
			calls = calls[:o.maxToolCalls]
		}

		lastAssistant = intentContent(comp.Content, calls)
		if _, err := o.store.AppendMessage(ctx, conversationID, ownerID, conversation.RoleAssistant, lastAssistant, intentRecords(calls)); err != nil {
			log.Error("persisting tool-call intent failed", zap.Error(err))
			metrics.CompletionRounds.Observe(float64(rounds))
			return o.failure(conversationID, err), err
		}
		appended++
		transcript = append(transcript, ChatMessage{Role: "assistant", Content: comp.Content, ToolCalls: calls})

		for _, call := range calls {
			record, toolMsg, err := o.runToolCall(ctx, ownerID, call)
			if err != nil {
				log.Error("tool execution failed", zap.String("tool", call.Function.Name), zap.Error(err))
				metrics.CompletionRounds.Observe(float64(rounds))
				return o.failure(conversationID, err), err
			}
			executed = append(executed, *record)

			if _, err := o.store.AppendMessage(ctx, conversationID, ownerID, conversation.RoleTool, toolMsg, conversation.ToolCallList{*record}); err != nil {
				log.Error("persisting tool result failed", zap.Error(err))
				metrics.CompletionRounds.Observe(float64(rounds))
				return o.failure(conversationID, err), err
			}
			appended++
			transcript = append(transcript, ChatMessage{Role: "tool", ToolCallID: call.ID, Content: toolMsg})
		}
	}

	// Round budget exhausted with tools still being requested. The intent
	// text of the last round is already persisted, so it is the reply.
	metrics.CompletionRounds.Observe(float64(rounds))
	log.Warn("round budget exhausted",
		zap.Int("rounds", rounds),
		zap.Int("tools_executed", len(executed)))
	return &TurnResult{
		Success:           true,
		ConversationID:    conversationID,
		Response:          lastAssistant,
		ToolCallsExecuted: executed,
		MessageCount:      len(history) + appended,
	}, nil
}

// runToolCall validates and executes one requested call. Catalogue and
// schema failures become error records fed back to the model for
// self-correction on the next round; only infrastructure failures return a
// non-nil error and abort the turn.
func (o *Orchestrator) runToolCall(ctx context.Context, ownerID uuid.UUID, call ToolCall) (*conversation.ToolCallRecord, string, error) {
	name := call.Function.Name
	record := &conversation.ToolCallRecord{
		ID:        call.ID,
		ToolName:  name,
		Arguments: argumentsMap(call.Function.Arguments),
	}

	in, err := o.registry.Validate(name, call.Function.Arguments)
	if err != nil {
		record.Error = err.Error()
		metrics.ToolExecutionsTotal.WithLabelValues(name, "invalid").Inc()
		return record, fmt.Sprintf("Error: %s", err.Error()), nil
	}

	result, err := o.runner.Execute(ctx, ownerID, in)
	if err != nil {
		metrics.ToolExecutionsTotal.WithLabelValues(name, "error").Inc()
		return nil, "", err
	}
	record.DurationMs = result.Duration.Milliseconds()
	metrics.ToolExecutionDuration.WithLabelValues(name).Observe(result.Duration.Seconds())

	if !result.OK() {
		record.Error = result.Err
		metrics.ToolExecutionsTotal.WithLabelValues(name, "failed").Inc()
		return record, fmt.Sprintf("Error: %s", result.Err), nil
	}

	record.Result = result.Payload
	metrics.ToolExecutionsTotal.WithLabelValues(name, "ok").Inc()

	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return nil, "", fmt.Errorf("encoding tool result: %w", err)
	}
	return record, fmt.Sprintf("Tool '%s' result: %s", name, payload), nil
}

func (o *Orchestrator) failure(conversationID uuid.UUID, err error) *TurnResult {
	kind := fallback.Classify(err)
	return &TurnResult{
		Success:           false,
		ConversationID:    conversationID,
		Response:          fallback.For(kind, err),
		ToolCallsExecuted: []conversation.ToolCallRecord{},
		ErrorKind:         kind,
	}
}

// intentContent derives the persisted text of a tool-requesting assistant
// message. Models often send tool calls with empty content; the stored
// message still needs a body.
func intentContent(content string, calls []ToolCall) string {
	if strings.TrimSpace(content) != "" {
		return content
	}
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function.Name)
	}
	return "Using tools: " + strings.Join(names, ", ")
}

func intentRecords(calls []ToolCall) conversation.ToolCallList {
	records := make(conversation.ToolCallList, 0, len(calls))
	for _, c := range calls {
		records = append(records, conversation.ToolCallRecord{
			ID:        c.ID,
			ToolName:  c.Function.Name,
			Arguments: argumentsMap(c.Function.Arguments),
		})
	}
	return records
}

func argumentsMap(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"_raw": string(raw)}
	}
	return m
}
