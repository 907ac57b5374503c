package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/db"
)

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "New Conversation"

// Store persists conversations and messages. Every method re-reads from
// PostgreSQL; nothing is cached between calls, so concurrent turns always
// observe committed state.
type Store struct {
	db     *db.Client
	logger *zap.Logger
}

// NewStore creates a conversation store.
func NewStore(client *db.Client, logger *zap.Logger) *Store {
	return &Store{db: client, logger: logger}
}

// CreateConversation creates a conversation for ownerID with an optional
// title and returns it with a freshly generated id.
func (s *Store) CreateConversation(ctx context.Context, ownerID uuid.UUID, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.OwnerID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info("Conversation created",
		zap.String("conversation_id", conv.ID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return conv, nil
}

// GetOwnedConversation fetches a conversation only when ownerID owns it.
// A non-owner lookup is indistinguishable from a missing id: both return
// ErrNotFound.
func (s *Store) GetOwnedConversation(ctx context.Context, conversationID, ownerID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := s.db.DB().GetContext(ctx, &conv, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND owner_id = $2`,
		conversationID, ownerID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the owner's conversations, most recently
// updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID uuid.UUID, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	conversations := []Conversation{}
	err := s.db.DB().SelectContext(ctx, &conversations, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// AppendMessage inserts a message and bumps the parent conversation's
// updated_at in one transaction. Ownership is re-verified inside the same
// transaction as the insert so a check passed earlier in the turn cannot go
// stale.
func (s *Store) AppendMessage(ctx context.Context, conversationID, ownerID uuid.UUID, role, content string, toolCalls ToolCallList) (*Message, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var owner uuid.UUID
		err := tx.QueryRowxContext(ctx, `
			SELECT owner_id FROM conversations WHERE id = $1 FOR UPDATE`,
			conversationID,
		).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		if owner != ownerID {
			return ErrNotFound
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, owner_id, role, content, tool_calls, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			msg.ID, msg.ConversationID, msg.OwnerID, msg.Role, msg.Content, msg.ToolCalls, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET updated_at = $2 WHERE id = $1`,
			conversationID, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Message appended",
		zap.String("conversation_id", conversationID.String()),
		zap.String("role", role),
		zap.String("message_id", msg.ID.String()),
	)
	return msg, nil
}

// RecentMessages returns up to limit messages in created_at ascending order.
// When the conversation is missing or owned by someone else it returns an
// empty slice, not an error; callers that must distinguish an empty
// authorized conversation verify ownership first via GetOwnedConversation.
func (s *Store) RecentMessages(ctx context.Context, conversationID, ownerID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var exists bool
	err := s.db.DB().GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND owner_id = $2)`,
		conversationID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation ownership: %w", err)
	}
	if !exists {
		return []Message{}, nil
	}

	messages := []Message{}
	err = s.db.DB().SelectContext(ctx, &messages, `
		SELECT id, conversation_id, owner_id, role, content, tool_calls, token_count, created_at
		FROM messages
		WHERE conversation_id = $1 AND owner_id = $2
		ORDER BY created_at ASC
		LIMIT $3`,
		conversationID, ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes an owned conversation; its messages go with it
// via the foreign key cascade.
func (s *Store) DeleteConversation(ctx context.Context, conversationID, ownerID uuid.UUID) error {
	res, err := s.db.DB().ExecContext(ctx, `
		DELETE FROM conversations WHERE id = $1 AND owner_id = $2`,
		conversationID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("Conversation deleted",
		zap.String("conversation_id", conversationID.String()),
		zap.String("owner_id", ownerID.String()),
	)
	return nil
}
