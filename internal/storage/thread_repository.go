package storage

import (
	"context"
	"database/sql"
	"fmt"

	"thread_billing/internal/models"
)

// ThreadRepository handles thread lookups for the billing query surface
type ThreadRepository struct {
	db *DB
}

// NewThreadRepository creates a new thread repository
func NewThreadRepository(db *DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// GetByID retrieves a thread by id
func (r *ThreadRepository) GetByID(ctx context.Context, id int64) (*models.Thread, error) {
	var thread models.Thread
	query := `
		SELECT thread_id, user_id, title, model_id, is_active, created_at, updated_at
		FROM user_threads
		WHERE thread_id = $1
	`

	err := r.db.conn.GetContext(ctx, &thread, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// ListByUser retrieves all threads owned by a user
func (r *ThreadRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Thread, error) {
	query := `
		SELECT thread_id, user_id, title, model_id, is_active, created_at, updated_at
		FROM user_threads
		WHERE user_id = $1
		ORDER BY created_at
	`

	var threads []*models.Thread
	err := r.db.conn.SelectContext(ctx, &threads, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads for user: %w", err)
	}

	return threads, nil
}
