package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/conversation"
	"github.com/taskpilot/taskpilot/internal/fallback"
	"github.com/taskpilot/taskpilot/internal/tools"
)

type appendedMessage struct {
	Role      string
	Content   string
	ToolCalls conversation.ToolCallList
}

type fakeStore struct {
	ownerID    uuid.UUID
	convID     uuid.UUID
	history    []conversation.Message
	appended   []appendedMessage
	lookupErr  error
	appendErr  error
	historyErr error
}

func (f *fakeStore) GetOwnedConversation(_ context.Context, conversationID, ownerID uuid.UUID) (*conversation.Conversation, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if conversationID != f.convID || ownerID != f.ownerID {
		return nil, conversation.ErrNotFound
	}
	return &conversation.Conversation{ID: conversationID, OwnerID: ownerID}, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, conversationID, ownerID uuid.UUID, role, content string, toolCalls conversation.ToolCallList) (*conversation.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.appended = append(f.appended, appendedMessage{Role: role, Content: content, ToolCalls: toolCalls})
	return &conversation.Message{ID: uuid.New(), ConversationID: conversationID, OwnerID: ownerID, Role: role, Content: content}, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, _, _ uuid.UUID, _ int) ([]conversation.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	out := append([]conversation.Message{}, f.history...)
	for _, m := range f.appended {
		out = append(out, conversation.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

type fakeRunner struct {
	results map[string]*tools.Result
	err     error
	runs    []string
}

func (f *fakeRunner) Execute(_ context.Context, _ uuid.UUID, in tools.Input) (*tools.Result, error) {
	f.runs = append(f.runs, in.ToolName())
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[in.ToolName()]; ok {
		return res, nil
	}
	return &tools.Result{ToolName: in.ToolName(), Payload: map[string]interface{}{"ok": true}}, nil
}

type fakeClient struct {
	responses []*Completion
	err       error
	calls     int
	seen      [][]ChatMessage
}

func (f *fakeClient) Complete(_ context.Context, messages []ChatMessage, _ []tools.Definition) (*Completion, error) {
	f.calls++
	f.seen = append(f.seen, append([]ChatMessage{}, messages...))
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func newEnv(responses ...*Completion) (*fakeStore, *fakeRunner, *fakeClient, *Orchestrator) {
	store := &fakeStore{ownerID: uuid.New(), convID: uuid.New()}
	runner := &fakeRunner{}
	client := &fakeClient{responses: responses}
	orch := NewOrchestrator(store, tools.NewRegistry(), runner, client, zap.NewNop(), Options{})
	return store, runner, client, orch
}

func addTaskCall(id string) ToolCall {
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: FunctionCall{
			Name:      tools.ToolAddTask,
			Arguments: json.RawMessage(`{"title":"buy milk"}`),
		},
	}
}

func TestProcessTurnPlainReply(t *testing.T) {
	store, runner, client, orch := newEnv(&Completion{Content: "Hello! How can I help with your tasks?"})

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "hello")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Hello! How can I help with your tasks?", res.Response)
	assert.Empty(t, res.ToolCallsExecuted)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, runner.runs)

	require.Len(t, store.appended, 2)
	assert.Equal(t, conversation.RoleUser, store.appended[0].Role)
	assert.Equal(t, "hello", store.appended[0].Content)
	assert.Equal(t, conversation.RoleAssistant, store.appended[1].Role)
	assert.Equal(t, 2, res.MessageCount)
}

func TestProcessTurnSingleToolRound(t *testing.T) {
	store, runner, client, orch := newEnv(
		&Completion{Content: "Adding that for you.", ToolCalls: []ToolCall{addTaskCall("call_1")}},
		&Completion{Content: "Done! 'buy milk' is on your list."},
	)

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "add buy milk")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Done! 'buy milk' is on your list.", res.Response)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, []string{tools.ToolAddTask}, runner.runs)

	require.Len(t, res.ToolCallsExecuted, 1)
	assert.Equal(t, tools.ToolAddTask, res.ToolCallsExecuted[0].ToolName)
	assert.Empty(t, res.ToolCallsExecuted[0].Error)

	// user, tool-call intent, tool result, final assistant — in that order.
	require.Len(t, store.appended, 4)
	assert.Equal(t, conversation.RoleUser, store.appended[0].Role)
	assert.Equal(t, conversation.RoleAssistant, store.appended[1].Role)
	require.Len(t, store.appended[1].ToolCalls, 1)
	assert.Equal(t, tools.ToolAddTask, store.appended[1].ToolCalls[0].ToolName)
	assert.Equal(t, conversation.RoleTool, store.appended[2].Role)
	assert.Contains(t, store.appended[2].Content, "Tool 'add_task' result")
	assert.Equal(t, conversation.RoleAssistant, store.appended[3].Role)

	// The second completion call must carry the tool result back.
	second := client.seen[1]
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
}

func TestProcessTurnRoundBudget(t *testing.T) {
	store, runner, client, orch := newEnv(
		&Completion{Content: "Still working on it.", ToolCalls: []ToolCall{addTaskCall("call_x")}},
	)

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "add everything")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, MaxRetries+1, client.calls)
	assert.Len(t, runner.runs, MaxRetries+1)
	assert.Equal(t, "Still working on it.", res.Response)

	// No closing assistant message after the final tool round; the last
	// intent message already holds the returned text.
	last := store.appended[len(store.appended)-1]
	assert.Equal(t, conversation.RoleTool, last.Role)
}

func TestProcessTurnDropsExcessToolCalls(t *testing.T) {
	var calls []ToolCall
	for i := 0; i < 7; i++ {
		calls = append(calls, addTaskCall(uuid.New().String()))
	}
	store, runner, client, orch := newEnv(
		&Completion{Content: "Batch adding.", ToolCalls: calls},
		&Completion{Content: "All set."},
	)

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "add seven tasks")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Len(t, runner.runs, MaxToolCallsPerTurn)
	assert.Len(t, res.ToolCallsExecuted, MaxToolCallsPerTurn)
	assert.Equal(t, 2, client.calls)
}

func TestProcessTurnUnknownToolFedBack(t *testing.T) {
	bad := ToolCall{
		ID:       "call_bad",
		Type:     "function",
		Function: FunctionCall{Name: "send_email", Arguments: json.RawMessage(`{}`)},
	}
	store, runner, _, orch := newEnv(
		&Completion{Content: "Emailing you.", ToolCalls: []ToolCall{bad}},
		&Completion{Content: "Sorry, I can only manage tasks."},
	)

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "email me my tasks")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, runner.runs)
	require.Len(t, res.ToolCallsExecuted, 1)
	assert.Contains(t, res.ToolCallsExecuted[0].Error, "tool not found")

	// The error goes back as a tool message so the model can correct itself.
	require.Len(t, store.appended, 4)
	assert.Equal(t, conversation.RoleTool, store.appended[2].Role)
	assert.Contains(t, store.appended[2].Content, "Error:")
}

func TestProcessTurnConversationNotFound(t *testing.T) {
	store, _, client, orch := newEnv(&Completion{Content: "unreachable"})

	res, err := orch.ProcessTurn(context.Background(), uuid.New(), store.ownerID, "hello")
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, fallback.KindNotFound, res.ErrorKind)
	assert.Empty(t, store.appended)
	assert.Zero(t, client.calls)
}

func TestProcessTurnCompletionTimeout(t *testing.T) {
	store := &fakeStore{ownerID: uuid.New(), convID: uuid.New()}
	client := &fakeClient{err: fallback.ErrTimeout}
	orch := NewOrchestrator(store, tools.NewRegistry(), &fakeRunner{}, client, zap.NewNop(), Options{})

	res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "hello")
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, fallback.KindTimeout, res.ErrorKind)
	assert.Contains(t, res.Response, "longer than usual")

	// The user message survives even though the turn failed.
	require.Len(t, store.appended, 1)
	assert.Equal(t, conversation.RoleUser, store.appended[0].Role)
}

func TestProcessTurnEmptyIntentGetsBody(t *testing.T) {
	store, _, _, orch := newEnv(
		&Completion{Content: "", ToolCalls: []ToolCall{addTaskCall("call_1")}},
		&Completion{Content: "Added."},
	)

	_, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "add buy milk")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(store.appended), 2)
	intent := store.appended[1]
	assert.Equal(t, conversation.RoleAssistant, intent.Role)
	assert.NotEmpty(t, intent.Content)
	assert.Contains(t, intent.Content, tools.ToolAddTask)
}

func TestOrchestratorIsStateless(t *testing.T) {
	store, _, client, orch := newEnv(&Completion{Content: "Hi again."})

	for i := 0; i < 3; i++ {
		res, err := orch.ProcessTurn(context.Background(), store.convID, store.ownerID, "hello")
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	// Each turn re-reads its context; history grows only through the store.
	assert.Equal(t, 3, client.calls)
	assert.Len(t, store.appended, 6)
	assert.Equal(t, "system", client.seen[2][0].Role)
}
