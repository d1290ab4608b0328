package storage

import (
	"context"
	"fmt"

	"thread_billing/internal/models"
)

// TokenRepository owns the per-message token ledger and its invoice line
// items. Token rows for a message are replaced per token type so
// redelivered events converge to the same rows.
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// ReplaceTokenUsageParams describes one message's authoritative token counts
// together with the prices in force when they were recorded.
type ReplaceTokenUsageParams struct {
	MessageID    int64
	Role         models.MessageRole
	InputTokens  int
	OutputTokens int
	InputPrice   float64
	OutputPrice  float64
	// PriceID is nil when no pricing row existed and default prices were
	// applied.
	PriceID *int64
}

// ReplaceTokenUsage replaces the token rows and invoice line items for a
// message in one transaction. The replacement is scoped to the token types
// present with a count above zero: types the event does not carry keep
// their existing rows, so a stale zero-count redelivery cannot erase
// charges that were already billed. The denormalized token_count on the
// message is updated when the count matching its role is replaced. Running
// this twice with the same parameters leaves the ledger unchanged.
func (r *TokenRepository) ReplaceTokenUsage(ctx context.Context, p ReplaceTokenUsageParams) error {
	type replacement struct {
		tokenType models.TokenType
		count     int
		price     float64
	}
	var replacements []replacement
	if p.InputTokens > 0 {
		replacements = append(replacements, replacement{models.TokenTypeInput, p.InputTokens, p.InputPrice})
	}
	if p.OutputTokens > 0 {
		replacements = append(replacements, replacement{models.TokenTypeOutput, p.OutputTokens, p.OutputPrice})
	}
	if len(replacements) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	roleCount := p.InputTokens
	if p.Role == models.RoleAssistant {
		roleCount = p.OutputTokens
	}
	if roleCount > 0 {
		updateQuery := `UPDATE user_thread_messages SET token_count = $2 WHERE message_id = $1`
		if _, err := tx.ExecContext(ctx, updateQuery, p.MessageID, roleCount); err != nil {
			return fmt.Errorf("failed to update message token count: %w", err)
		}
	}

	deleteItemsQuery := `
		DELETE FROM user_invoice_line_item
		WHERE token_id IN (
			SELECT token_id FROM message_tokens WHERE message_id = $1 AND token_type = $2
		)
	`
	deleteTokensQuery := `DELETE FROM message_tokens WHERE message_id = $1 AND token_type = $2`
	insertTokenQuery := `
		INSERT INTO message_tokens (message_id, token_type, token_count, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING token_id
	`
	insertItemQuery := `
		INSERT INTO user_invoice_line_item (message_id, token_id, pricing_id, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	for _, rep := range replacements {
		if _, err := tx.ExecContext(ctx, deleteItemsQuery, p.MessageID, rep.tokenType); err != nil {
			return fmt.Errorf("failed to delete %s line items: %w", rep.tokenType, err)
		}
		if _, err := tx.ExecContext(ctx, deleteTokensQuery, p.MessageID, rep.tokenType); err != nil {
			return fmt.Errorf("failed to delete %s token rows: %w", rep.tokenType, err)
		}

		var tokenID int64
		if err := tx.GetContext(ctx, &tokenID, insertTokenQuery, p.MessageID, rep.tokenType, rep.count); err != nil {
			return fmt.Errorf("failed to insert %s token row: %w", rep.tokenType, err)
		}

		amount := Round6(float64(rep.count) * rep.price)
		if _, err := tx.ExecContext(ctx, insertItemQuery, p.MessageID, tokenID, p.PriceID, amount); err != nil {
			return fmt.Errorf("failed to insert %s line item: %w", rep.tokenType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token usage: %w", err)
	}

	return nil
}

// ModelTokenSums holds per-model token totals for a thread
type ModelTokenSums struct {
	ModelID      int64
	InputTokens  int64
	OutputTokens int64
}

// SumsByModel aggregates a thread's token ledger by the model of each
// message, so metrics can price each model's tokens at its own rate.
func (r *TokenRepository) SumsByModel(ctx context.Context, threadID int64) ([]*ModelTokenSums, error) {
	query := `
		SELECT m.model_id, mt.token_type, COALESCE(SUM(mt.token_count), 0) AS total
		FROM message_tokens mt
		JOIN user_thread_messages m ON m.message_id = mt.message_id
		WHERE m.thread_id = $1
		GROUP BY m.model_id, mt.token_type
		ORDER BY m.model_id
	`

	rows, err := r.db.conn.QueryxContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum tokens by model: %w", err)
	}
	defer rows.Close()

	byModel := make(map[int64]*ModelTokenSums)
	var order []int64
	for rows.Next() {
		var modelID int64
		var tokenType string
		var total int64
		if err := rows.Scan(&modelID, &tokenType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan token sum row: %w", err)
		}

		sums, found := byModel[modelID]
		if !found {
			sums = &ModelTokenSums{ModelID: modelID}
			byModel[modelID] = sums
			order = append(order, modelID)
		}
		switch models.TokenType(tokenType) {
		case models.TokenTypeInput:
			sums.InputTokens += total
		case models.TokenTypeOutput:
			sums.OutputTokens += total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token sum rows: %w", err)
	}

	result := make([]*ModelTokenSums, 0, len(order))
	for _, modelID := range order {
		result = append(result, byModel[modelID])
	}
	return result, nil
}

// ListByThread returns all token rows belonging to a thread's messages
func (r *TokenRepository) ListByThread(ctx context.Context, threadID int64) ([]*models.TokenUsage, error) {
	query := `
		SELECT mt.token_id, mt.message_id, mt.token_type, mt.token_count, mt.created_at
		FROM message_tokens mt
		JOIN user_thread_messages m ON m.message_id = mt.message_id
		WHERE m.thread_id = $1
		ORDER BY mt.token_id
	`

	var tokens []*models.TokenUsage
	err := r.db.conn.SelectContext(ctx, &tokens, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens for thread: %w", err)
	}

	return tokens, nil
}

// ListByMessage returns the token rows of a single message
func (r *TokenRepository) ListByMessage(ctx context.Context, messageID int64) ([]*models.TokenUsage, error) {
	query := `
		SELECT token_id, message_id, token_type, token_count, created_at
		FROM message_tokens
		WHERE message_id = $1
		ORDER BY token_id
	`

	var tokens []*models.TokenUsage
	err := r.db.conn.SelectContext(ctx, &tokens, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens for message: %w", err)
	}

	return tokens, nil
}
