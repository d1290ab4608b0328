package storage

import (
	"context"
	"database/sql"
	"fmt"

	"thread_billing/internal/models"
)

// PricingRepository handles the versioned price dimensions. Historical
// rows are never updated in place: changing a price closes the current
// row and inserts a new one.
type PricingRepository struct {
	db    *DB
	cache *LRUCache
}

// NewPricingRepository creates a new pricing repository
func NewPricingRepository(db *DB) *PricingRepository {
	return &PricingRepository{
		db:    db,
		cache: db.priceCache,
	}
}

func tokenPriceKey(modelID int64) string {
	return fmt.Sprintf("token:%d", modelID)
}

func resourcePriceKey(modelID, eventTypeID int64) string {
	return fmt.Sprintf("resource:%d:%d", modelID, eventTypeID)
}

// CurrentTokenPrice returns the current token price row for a model
func (r *PricingRepository) CurrentTokenPrice(ctx context.Context, modelID int64) (*models.TokenPrice, error) {
	key := tokenPriceKey(modelID)
	if cached, found := r.cache.Get(key); found {
		return cached.(*models.TokenPrice), nil
	}

	var price models.TokenPrice
	query := `
		SELECT pricing_id, model_id, input_token_price, output_token_price,
		       effective_from, effective_to, is_current
		FROM dim_token_pricing
		WHERE model_id = $1 AND is_current = true
	`

	err := r.db.conn.GetContext(ctx, &price, query, modelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to get current token price: %w", err)
	}

	r.cache.Set(key, &price)
	return &price, nil
}

// LatestCurrentTokenPrice returns the most recently effective current token
// price across all models. Used for the denormalized metrics fallback where
// per-message model attribution is not available.
func (r *PricingRepository) LatestCurrentTokenPrice(ctx context.Context) (*models.TokenPrice, error) {
	var price models.TokenPrice
	query := `
		SELECT pricing_id, model_id, input_token_price, output_token_price,
		       effective_from, effective_to, is_current
		FROM dim_token_pricing
		WHERE is_current = true
		ORDER BY effective_from DESC
		LIMIT 1
	`

	err := r.db.conn.GetContext(ctx, &price, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to get latest token price: %w", err)
	}

	return &price, nil
}

// CurrentResourcePrice returns the current per-unit price for a resource
// event type on a model
func (r *PricingRepository) CurrentResourcePrice(ctx context.Context, modelID, eventTypeID int64) (*models.ResourcePrice, error) {
	key := resourcePriceKey(modelID, eventTypeID)
	if cached, found := r.cache.Get(key); found {
		return cached.(*models.ResourcePrice), nil
	}

	var price models.ResourcePrice
	query := `
		SELECT resource_pricing_id, model_id, event_type_id, unit_price,
		       effective_from, effective_to, is_current
		FROM dim_resource_pricing
		WHERE model_id = $1 AND event_type_id = $2 AND is_current = true
	`

	err := r.db.conn.GetContext(ctx, &price, query, modelID, eventTypeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to get current resource price: %w", err)
	}

	r.cache.Set(key, &price)
	return &price, nil
}

// SetCurrentTokenPrice closes the current token price row for a model (if
// any) and inserts the new one in a single transaction.
func (r *PricingRepository) SetCurrentTokenPrice(ctx context.Context, modelID int64, inputPrice, outputPrice float64) (*models.TokenPrice, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	closeQuery := `
		UPDATE dim_token_pricing
		SET is_current = false, effective_to = NOW()
		WHERE model_id = $1 AND is_current = true
	`
	if _, err := tx.ExecContext(ctx, closeQuery, modelID); err != nil {
		return nil, fmt.Errorf("failed to close current token price: %w", err)
	}

	var price models.TokenPrice
	insertQuery := `
		INSERT INTO dim_token_pricing
			(model_id, input_token_price, output_token_price, effective_from, effective_to, is_current)
		VALUES ($1, $2, $3, NOW(), NULL, true)
		RETURNING pricing_id, model_id, input_token_price, output_token_price,
		          effective_from, effective_to, is_current
	`
	err = tx.GetContext(ctx, &price, insertQuery, modelID, inputPrice, outputPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token price: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token price change: %w", err)
	}

	r.cache.Delete(tokenPriceKey(modelID))
	return &price, nil
}

// SetCurrentResourcePrice closes the current resource price row for a
// model/event-type pair (if any) and inserts the new one in a single
// transaction.
func (r *PricingRepository) SetCurrentResourcePrice(ctx context.Context, modelID, eventTypeID int64, unitPrice float64) (*models.ResourcePrice, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	closeQuery := `
		UPDATE dim_resource_pricing
		SET is_current = false, effective_to = NOW()
		WHERE model_id = $1 AND event_type_id = $2 AND is_current = true
	`
	if _, err := tx.ExecContext(ctx, closeQuery, modelID, eventTypeID); err != nil {
		return nil, fmt.Errorf("failed to close current resource price: %w", err)
	}

	var price models.ResourcePrice
	insertQuery := `
		INSERT INTO dim_resource_pricing
			(model_id, event_type_id, unit_price, effective_from, effective_to, is_current)
		VALUES ($1, $2, $3, NOW(), NULL, true)
		RETURNING resource_pricing_id, model_id, event_type_id, unit_price,
		          effective_from, effective_to, is_current
	`
	err = tx.GetContext(ctx, &price, insertQuery, modelID, eventTypeID, unitPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to insert resource price: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resource price change: %w", err)
	}

	r.cache.Delete(resourcePriceKey(modelID, eventTypeID))
	return &price, nil
}
