package conversation

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles. Tool results are persisted under RoleTool so a transcript
// replays exactly as the loop produced it.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MaxContentLength caps message content at write time.
const MaxContentLength = 4096

var (
	// ErrNotFound covers both a missing conversation and one owned by
	// another user; callers cannot tell the two apart.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidRole is returned for roles outside user/assistant/tool.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrContentTooLong is returned when content exceeds MaxContentLength.
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", MaxContentLength)

	// ErrEmptyContent is returned for empty message content.
	ErrEmptyContent = errors.New("message content cannot be empty")
)

// Conversation groups messages into a chat session owned by exactly one user.
type Conversation struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OwnerID   uuid.UUID `db:"owner_id" json:"owner_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ToolCallRecord captures one tool invocation: what was requested, what came
// back, and how long it took. Persisted inside a message's tool_calls column.
type ToolCallRecord struct {
	ID         string                 `json:"id,omitempty"`
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms,omitempty"`
}

// ToolCallList is a jsonb-backed slice of tool call records.
type ToolCallList []ToolCallRecord

// Value implements driver.Valuer.
func (t ToolCallList) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner.
func (t *ToolCallList) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into ToolCallList", value)
	}
	return json.Unmarshal(bytes, t)
}

// Message is one immutable transcript entry. There is deliberately no update
// operation anywhere in this package.
type Message struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	ConversationID uuid.UUID    `db:"conversation_id" json:"conversation_id"`
	OwnerID        uuid.UUID    `db:"owner_id" json:"owner_id"`
	Role           string       `db:"role" json:"role"`
	Content        string       `db:"content" json:"content"`
	ToolCalls      ToolCallList `db:"tool_calls" json:"tool_calls,omitempty"`
	TokenCount     *int         `db:"token_count" json:"token_count,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// ValidRole reports whether role is one of the three persisted roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}
