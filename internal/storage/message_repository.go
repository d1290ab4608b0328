package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"thread_billing/internal/models"
)

// MessageRepository handles message reads and the streaming content flush
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// GetByID retrieves a message by id
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	var message models.Message
	query := `
		SELECT message_id, thread_id, user_id, model_id, role, content, token_count, created_at
		FROM user_thread_messages
		WHERE message_id = $1
	`

	err := r.db.conn.GetContext(ctx, &message, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

// ListByThread retrieves all messages of a thread in chronological order
func (r *MessageRepository) ListByThread(ctx context.Context, threadID int64) ([]*models.Message, error) {
	query := `
		SELECT message_id, thread_id, user_id, model_id, role, content, token_count, created_at
		FROM user_thread_messages
		WHERE thread_id = $1
		ORDER BY created_at, message_id
	`

	var messages []*models.Message
	err := r.db.conn.SelectContext(ctx, &messages, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for thread: %w", err)
	}

	return messages, nil
}

// CountByThread returns the number of messages in a thread
func (r *MessageRepository) CountByThread(ctx context.Context, threadID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM user_thread_messages WHERE thread_id = $1`

	err := r.db.conn.GetContext(ctx, &count, query, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for thread: %w", err)
	}

	return count, nil
}

// LastActivity returns the timestamp of the newest message in a thread.
// The zero time is returned when the thread has no messages.
func (r *MessageRepository) LastActivity(ctx context.Context, threadID int64) (time.Time, error) {
	var last sql.NullTime
	query := `SELECT MAX(created_at) FROM user_thread_messages WHERE thread_id = $1`

	err := r.db.conn.GetContext(ctx, &last, query, threadID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last activity for thread: %w", err)
	}

	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

// UpdateContent replaces the stored content of a message. Used when a
// streamed response is cancelled and the partial text must be persisted.
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	query := `UPDATE user_thread_messages SET content = $2 WHERE message_id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, id, content)
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// RoleTokenSums holds denormalized per-role token counts for a thread
type RoleTokenSums struct {
	InputTokens  int64
	OutputTokens int64
}

// DenormalizedTokenSums sums the token_count column of a thread's messages
// by role. This is the fallback path for threads recorded before the token
// ledger existed.
func (r *MessageRepository) DenormalizedTokenSums(ctx context.Context, threadID int64) (*RoleTokenSums, error) {
	query := `
		SELECT role, COALESCE(SUM(token_count), 0) AS total
		FROM user_thread_messages
		WHERE thread_id = $1
		GROUP BY role
	`

	rows, err := r.db.conn.QueryxContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum message tokens for thread: %w", err)
	}
	defer rows.Close()

	sums := &RoleTokenSums{}
	for rows.Next() {
		var role string
		var total int64
		if err := rows.Scan(&role, &total); err != nil {
			return nil, fmt.Errorf("failed to scan token sum row: %w", err)
		}
		switch models.MessageRole(role) {
		case models.RoleUser:
			sums.InputTokens += total
		case models.RoleAssistant:
			sums.OutputTokens += total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token sum rows: %w", err)
	}

	return sums, nil
}
