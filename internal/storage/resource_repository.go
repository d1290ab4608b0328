package storage

import (
	"context"
	"database/sql"
	"fmt"

	"thread_billing/internal/models"
)

// ResourceRepository records non-token resource events and their line items
type ResourceRepository struct {
	db *DB
}

// NewResourceRepository creates a new resource repository
func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// GetEventTypeByName retrieves an event type by name
func (r *ResourceRepository) GetEventTypeByName(ctx context.Context, name string) (*models.EventType, error) {
	var eventType models.EventType
	query := `
		SELECT event_type_id, event_name, description, unit_of_measure, is_active
		FROM dim_event_types
		WHERE event_name = $1
	`

	err := r.db.conn.GetContext(ctx, &eventType, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("failed to get event type: %w", err)
	}

	return &eventType, nil
}

// GetOrCreateEventType retrieves an event type by name, creating it when it
// does not exist yet. New event types are priced later by operators; events
// recorded before a price exists carry no line item.
func (r *ResourceRepository) GetOrCreateEventType(ctx context.Context, name string) (*models.EventType, error) {
	eventType, err := r.GetEventTypeByName(ctx, name)
	if err == nil {
		return eventType, nil
	}
	if err != ErrEventTypeNotFound {
		return nil, err
	}

	var created models.EventType
	insertQuery := `
		INSERT INTO dim_event_types (event_name, description, unit_of_measure, is_active)
		VALUES ($1, '', 'unit', true)
		ON CONFLICT (event_name) DO UPDATE SET event_name = EXCLUDED.event_name
		RETURNING event_type_id, event_name, description, unit_of_measure, is_active
	`
	err = r.db.conn.GetContext(ctx, &created, insertQuery, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create event type: %w", err)
	}

	return &created, nil
}

// InsertEvent records a resource event. The generated id and timestamp are
// written back onto the event.
func (r *ResourceRepository) InsertEvent(ctx context.Context, event *models.ResourceEvent) error {
	query := `
		INSERT INTO api_events (message_id, user_id, event_type_id, model_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING event_id, created_at
	`

	row := r.db.conn.QueryRowxContext(ctx, query,
		event.MessageID, event.UserID, event.EventTypeID, event.ModelID, event.Quantity)
	if err := row.Scan(&event.ID, &event.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert resource event: %w", err)
	}

	return nil
}

// InsertLineItem records the billed amount for a resource event
func (r *ResourceRepository) InsertLineItem(ctx context.Context, item *models.ResourceLineItem) error {
	query := `
		INSERT INTO resource_invoice_line_item
			(event_id, user_id, resource_pricing_id, quantity, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING resource_line_item_id, created_at
	`

	row := r.db.conn.QueryRowxContext(ctx, query,
		item.EventID, item.UserID, item.ResourcePriceID, item.Quantity, item.Amount)
	if err := row.Scan(&item.ID, &item.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert resource line item: %w", err)
	}

	return nil
}

// ListEventsByUser retrieves a user's resource events in chronological order
func (r *ResourceRepository) ListEventsByUser(ctx context.Context, userID int64) ([]*models.ResourceEvent, error) {
	query := `
		SELECT event_id, message_id, user_id, event_type_id, model_id, quantity, created_at
		FROM api_events
		WHERE user_id = $1
		ORDER BY created_at, event_id
	`

	var events []*models.ResourceEvent
	err := r.db.conn.SelectContext(ctx, &events, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource events for user: %w", err)
	}

	return events, nil
}
