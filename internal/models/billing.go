package models

import (
	"time"
)

// TokenUsage is the ledger row recording token consumption for a message.
// At most one row exists per (message, token type); reprocessing replaces
// the row rather than duplicating it.
type TokenUsage struct {
	ID         int64     `db:"token_id" json:"token_id"`
	MessageID  int64     `db:"message_id" json:"message_id"`
	TokenType  TokenType `db:"token_type" json:"token_type"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// InvoiceLineItem is a derived charge for one token usage row. PriceID is
// nil when the charge was computed with the process-wide default prices.
type InvoiceLineItem struct {
	ID        int64     `db:"line_item_id" json:"line_item_id"`
	MessageID int64     `db:"message_id" json:"message_id"`
	TokenID   int64     `db:"token_id" json:"token_id"`
	PriceID   *int64    `db:"pricing_id" json:"pricing_id,omitempty"`
	Amount    float64   `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ResourceEvent records a non-token billable event (image generation, tool
// call, etc). Quantity is tracked even when no pricing row exists.
type ResourceEvent struct {
	ID          int64     `db:"event_id" json:"event_id"`
	MessageID   *int64    `db:"message_id" json:"message_id,omitempty"`
	UserID      int64     `db:"user_id" json:"user_id"`
	EventTypeID int64     `db:"event_type_id" json:"event_type_id"`
	ModelID     int64     `db:"model_id" json:"model_id"`
	Quantity    float64   `db:"quantity" json:"quantity"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ResourceLineItem is the priced counterpart of a ResourceEvent. Only
// created when a current resource price exists for (model, event type).
type ResourceLineItem struct {
	ID              int64     `db:"resource_line_item_id" json:"resource_line_item_id"`
	EventID         int64     `db:"event_id" json:"event_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	ResourcePriceID int64     `db:"resource_pricing_id" json:"resource_pricing_id"`
	Quantity        float64   `db:"quantity" json:"quantity"`
	Amount          float64   `db:"amount" json:"amount"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// Invoice is a per-thread billing snapshot. At most one invoice exists per
// thread; TotalAmount captures the thread metrics at generation time and is
// not kept live.
type Invoice struct {
	ID          int64         `db:"invoice_id" json:"invoice_id"`
	UserID      int64         `db:"user_id" json:"user_id"`
	ThreadID    int64         `db:"thread_id" json:"thread_id"`
	TotalAmount float64       `db:"total_amount" json:"total_amount"`
	Status      InvoiceStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"invoice_date" json:"invoice_date"`
}
