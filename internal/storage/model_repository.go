package storage

import (
	"context"
	"database/sql"
	"fmt"

	"thread_billing/internal/models"
)

// ModelRepository handles model dimension lookups with caching
type ModelRepository struct {
	db    *DB
	cache *LRUCache
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *DB) *ModelRepository {
	return &ModelRepository{
		db:    db,
		cache: db.modelCache,
	}
}

// GetByID retrieves a model by id (with caching)
func (r *ModelRepository) GetByID(ctx context.Context, id int64) (*models.Model, error) {
	key := fmt.Sprintf("id:%d", id)
	if cached, found := r.cache.Get(key); found {
		return cached.(*models.Model), nil
	}

	var model models.Model
	query := `
		SELECT model_id, model_name, description, is_active
		FROM dim_models
		WHERE model_id = $1
	`

	err := r.db.conn.GetContext(ctx, &model, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}

	r.cache.Set(key, &model)
	return &model, nil
}

// GetByName retrieves a model by name
func (r *ModelRepository) GetByName(ctx context.Context, name string) (*models.Model, error) {
	var model models.Model
	query := `
		SELECT model_id, model_name, description, is_active
		FROM dim_models
		WHERE model_name = $1
	`

	err := r.db.conn.GetContext(ctx, &model, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to get model by name: %w", err)
	}

	return &model, nil
}

// List returns all active models
func (r *ModelRepository) List(ctx context.Context) ([]*models.Model, error) {
	query := `
		SELECT model_id, model_name, description, is_active
		FROM dim_models
		WHERE is_active = true
		ORDER BY model_name
	`

	var modelsList []*models.Model
	err := r.db.conn.SelectContext(ctx, &modelsList, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	return modelsList, nil
}

// InvalidateCache removes a model from the cache
func (r *ModelRepository) InvalidateCache(id int64) {
	r.cache.Delete(fmt.Sprintf("id:%d", id))
}
