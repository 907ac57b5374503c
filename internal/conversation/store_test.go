package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/db"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	client := db.NewClientFromDB(sqlx.NewDb(mockDB, "postgres"), zap.NewNop())
	return NewStore(client, zap.NewNop()), mock
}

func TestCreateConversationDefaultsTitle(t *testing.T) {
	store, mock := newTestStore(t)
	ownerID := uuid.New()

	mock.ExpectExec(`INSERT INTO conversations`).
		WithArgs(sqlmock.AnyArg(), ownerID, DefaultTitle, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := store.CreateConversation(context.Background(), ownerID, "   ")
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)
	assert.Equal(t, ownerID, conv.OwnerID)
	assert.NotEqual(t, uuid.Nil, conv.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOwnedConversationNotOwned(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID := uuid.New()

	// The query filters by both id and owner, so a foreign owner sees the
	// same empty result as a missing id.
	mock.ExpectQuery(`SELECT id, owner_id, title, created_at, updated_at\s+FROM conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "title", "created_at", "updated_at"}))

	_, err := store.GetOwnedConversation(context.Background(), conversationID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessageRejectsInvalidInput(t *testing.T) {
	store, _ := newTestStore(t)
	conversationID, ownerID := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		role    string
		content string
		wantErr error
	}{
		{"invalid role", "system", "hello", ErrInvalidRole},
		{"empty content", RoleUser, "", ErrEmptyContent},
		{"oversized content", RoleUser, string(make([]byte, MaxContentLength+1)), ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AppendMessage(context.Background(), conversationID, ownerID, tt.role, tt.content, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAppendMessageLocksAndInserts(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID, ownerID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_id FROM conversations WHERE id = \$1 FOR UPDATE`).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(ownerID.String()))
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), conversationID, ownerID, RoleUser, "buy milk", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE conversations SET updated_at`).
		WithArgs(conversationID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.AppendMessage(context.Background(), conversationID, ownerID, RoleUser, "buy milk", nil)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "buy milk", msg.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The length limit counts characters to match the varchar column. Multibyte
// content at exactly the limit is more bytes than the limit and must still
// be accepted.
func TestAppendMessageCountsRunesNotBytes(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID, ownerID := uuid.New(), uuid.New()
	content := strings.Repeat("読", MaxContentLength)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_id FROM conversations WHERE id = \$1 FOR UPDATE`).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(ownerID.String()))
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), conversationID, ownerID, RoleUser, content, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE conversations SET updated_at`).
		WithArgs(conversationID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.AppendMessage(context.Background(), conversationID, ownerID, RoleUser, content, nil)
	require.NoError(t, err)
	assert.Equal(t, content, msg.Content)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = store.AppendMessage(context.Background(), conversationID, ownerID, RoleUser, content+"読", nil)
	assert.ErrorIs(t, err, ErrContentTooLong)
}

func TestAppendMessageForeignOwnerRollsBack(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT owner_id FROM conversations WHERE id = \$1 FOR UPDATE`).
		WithArgs(conversationID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(uuid.New().String()))
	mock.ExpectRollback()

	_, err := store.AppendMessage(context.Background(), conversationID, uuid.New(), RoleUser, "hi", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMessagesForeignOwnerReturnsEmpty(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID, ownerID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(conversationID, ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	messages, err := store.RecentMessages(context.Background(), conversationID, ownerID, 50)
	require.NoError(t, err)
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentMessagesOrderedOldestFirst(t *testing.T) {
	store, mock := newTestStore(t)
	conversationID, ownerID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(conversationID, ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`ORDER BY created_at ASC\s+LIMIT \$3`).
		WithArgs(conversationID, ownerID, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "owner_id", "role", "content", "tool_calls", "token_count", "created_at"}).
			AddRow(uuid.New().String(), conversationID.String(), ownerID.String(), RoleUser, "first", nil, nil, first).
			AddRow(uuid.New().String(), conversationID.String(), ownerID.String(), RoleAssistant, "second", nil, nil, first.Add(5*time.Second)))

	messages, err := store.RecentMessages(context.Background(), conversationID, ownerID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteConversationNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`DELETE FROM conversations`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteConversation(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
