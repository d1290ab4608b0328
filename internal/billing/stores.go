package billing

import (
	"context"
	"time"

	"thread_billing/internal/cache"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
)

// MessageStore is the slice of the message repository the billing pipeline
// needs.
type MessageStore interface {
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	ListByThread(ctx context.Context, threadID int64) ([]*models.Message, error)
	CountByThread(ctx context.Context, threadID int64) (int, error)
	LastActivity(ctx context.Context, threadID int64) (time.Time, error)
	DenormalizedTokenSums(ctx context.Context, threadID int64) (*storage.RoleTokenSums, error)
}

// ThreadStore resolves threads and their ownership.
type ThreadStore interface {
	GetByID(ctx context.Context, id int64) (*models.Thread, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Thread, error)
}

// TokenStore owns the token ledger.
type TokenStore interface {
	ReplaceTokenUsage(ctx context.Context, p storage.ReplaceTokenUsageParams) error
	SumsByModel(ctx context.Context, threadID int64) ([]*storage.ModelTokenSums, error)
	ListByMessage(ctx context.Context, messageID int64) ([]*models.TokenUsage, error)
}

// PriceStore resolves current prices.
type PriceStore interface {
	CurrentTokenPrice(ctx context.Context, modelID int64) (*models.TokenPrice, error)
	LatestCurrentTokenPrice(ctx context.Context) (*models.TokenPrice, error)
	CurrentResourcePrice(ctx context.Context, modelID, eventTypeID int64) (*models.ResourcePrice, error)
}

// ResourceStore records resource events and their line items.
type ResourceStore interface {
	GetOrCreateEventType(ctx context.Context, name string) (*models.EventType, error)
	InsertEvent(ctx context.Context, event *models.ResourceEvent) error
	InsertLineItem(ctx context.Context, item *models.ResourceLineItem) error
}

// InvoiceStore owns per-thread invoices.
type InvoiceStore interface {
	GetByThread(ctx context.Context, threadID int64) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	UpdateTotal(ctx context.Context, invoiceID int64, total float64) error
	ListByUser(ctx context.Context, userID int64) ([]*models.Invoice, error)
}

// ReadModelCache is the slice of the Redis metrics cache used by the
// pipeline. All implementations must treat failures as non-fatal.
type ReadModelCache interface {
	ThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error)
	SetThreadMetrics(ctx context.Context, metrics *models.ThreadMetrics) error
	UserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error)
	SetUserMetrics(ctx context.Context, metrics *models.UserMetrics) error
	SetMessageTokens(ctx context.Context, messageID int64, input, output int) error
	AppendThreadMessage(ctx context.Context, threadID int64, message cache.CachedMessage) error
	Invalidate(ctx context.Context, threadID, userID int64)
}
