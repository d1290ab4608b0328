package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"thread_billing/internal/cache"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
)

// In-memory fakes for the storage interfaces. They return the storage
// sentinel errors so handlers exercise the same error paths as production.

type fakeMessages struct {
	mu       sync.Mutex
	messages map[int64]*models.Message
}

func newFakeMessages(msgs ...*models.Message) *fakeMessages {
	f := &fakeMessages{messages: make(map[int64]*models.Message)}
	for _, m := range msgs {
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMessages) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	return m, nil
}

func (f *fakeMessages) ListByThread(ctx context.Context, threadID int64) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Message
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (f *fakeMessages) CountByThread(ctx context.Context, threadID int64) (int, error) {
	msgs, _ := f.ListByThread(ctx, threadID)
	return len(msgs), nil
}

func (f *fakeMessages) LastActivity(ctx context.Context, threadID int64) (time.Time, error) {
	msgs, _ := f.ListByThread(ctx, threadID)
	var last time.Time
	for _, m := range msgs {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last, nil
}

func (f *fakeMessages) DenormalizedTokenSums(ctx context.Context, threadID int64) (*storage.RoleTokenSums, error) {
	msgs, _ := f.ListByThread(ctx, threadID)
	sums := &storage.RoleTokenSums{}
	for _, m := range msgs {
		if m.TokenCount == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			sums.InputTokens += int64(*m.TokenCount)
		case models.RoleAssistant:
			sums.OutputTokens += int64(*m.TokenCount)
		}
	}
	return sums, nil
}

type fakeThreads struct {
	threads map[int64]*models.Thread
}

func newFakeThreads(threads ...*models.Thread) *fakeThreads {
	f := &fakeThreads{threads: make(map[int64]*models.Thread)}
	for _, th := range threads {
		f.threads[th.ID] = th
	}
	return f
}

func (f *fakeThreads) GetByID(ctx context.Context, id int64) (*models.Thread, error) {
	th, ok := f.threads[id]
	if !ok {
		return nil, storage.ErrThreadNotFound
	}
	return th, nil
}

func (f *fakeThreads) ListByUser(ctx context.Context, userID int64) ([]*models.Thread, error) {
	var result []*models.Thread
	for _, th := range f.threads {
		if th.UserID == userID {
			result = append(result, th)
		}
	}
	return result, nil
}

type fakeTokens struct {
	mu       sync.Mutex
	replaced []storage.ReplaceTokenUsageParams
	sums     map[int64][]*storage.ModelTokenSums
	byMsg    map[int64][]*models.TokenUsage
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		sums:  make(map[int64][]*storage.ModelTokenSums),
		byMsg: make(map[int64][]*models.TokenUsage),
	}
}

func (f *fakeTokens) ReplaceTokenUsage(ctx context.Context, p storage.ReplaceTokenUsageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, p)
	return nil
}

func (f *fakeTokens) replacedCalls() []storage.ReplaceTokenUsageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.ReplaceTokenUsageParams(nil), f.replaced...)
}

func (f *fakeTokens) SumsByModel(ctx context.Context, threadID int64) ([]*storage.ModelTokenSums, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sums[threadID], nil
}

func (f *fakeTokens) ListByMessage(ctx context.Context, messageID int64) ([]*models.TokenUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byMsg[messageID], nil
}

type fakePricing struct {
	tokenPrices    map[int64]*models.TokenPrice
	latest         *models.TokenPrice
	resourcePrices map[string]*models.ResourcePrice
}

func newFakePricing() *fakePricing {
	return &fakePricing{
		tokenPrices:    make(map[int64]*models.TokenPrice),
		resourcePrices: make(map[string]*models.ResourcePrice),
	}
}

func (f *fakePricing) CurrentTokenPrice(ctx context.Context, modelID int64) (*models.TokenPrice, error) {
	price, ok := f.tokenPrices[modelID]
	if !ok {
		return nil, storage.ErrPriceNotFound
	}
	return price, nil
}

func (f *fakePricing) LatestCurrentTokenPrice(ctx context.Context) (*models.TokenPrice, error) {
	if f.latest == nil {
		return nil, storage.ErrPriceNotFound
	}
	return f.latest, nil
}

func (f *fakePricing) CurrentResourcePrice(ctx context.Context, modelID, eventTypeID int64) (*models.ResourcePrice, error) {
	price, ok := f.resourcePrices[fmt.Sprintf("%d:%d", modelID, eventTypeID)]
	if !ok {
		return nil, storage.ErrPriceNotFound
	}
	return price, nil
}

type fakeResources struct {
	mu         sync.Mutex
	eventTypes map[string]*models.EventType
	nextTypeID int64
	events     []*models.ResourceEvent
	items      []*models.ResourceLineItem
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		eventTypes: make(map[string]*models.EventType),
		nextTypeID: 1,
	}
}

func (f *fakeResources) GetOrCreateEventType(ctx context.Context, name string) (*models.EventType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if et, ok := f.eventTypes[name]; ok {
		return et, nil
	}
	et := &models.EventType{ID: f.nextTypeID, Name: name, UnitOfMeasure: "unit", IsActive: true}
	f.nextTypeID++
	f.eventTypes[name] = et
	return et, nil
}

func (f *fakeResources) InsertEvent(ctx context.Context, event *models.ResourceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	event.CreatedAt = time.Now().UTC()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeResources) InsertLineItem(ctx context.Context, item *models.ResourceLineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = int64(len(f.items) + 1)
	item.CreatedAt = time.Now().UTC()
	f.items = append(f.items, item)
	return nil
}

type fakeInvoices struct {
	mu       sync.Mutex
	byThread map[int64]*models.Invoice
	nextID   int64
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{byThread: make(map[int64]*models.Invoice), nextID: 1}
}

func (f *fakeInvoices) GetByThread(ctx context.Context, threadID int64) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice, ok := f.byThread[threadID]
	if !ok {
		return nil, storage.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (f *fakeInvoices) Create(ctx context.Context, invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	invoice.ID = f.nextID
	f.nextID++
	invoice.CreatedAt = time.Now().UTC()
	f.byThread[invoice.ThreadID] = invoice
	return nil
}

func (f *fakeInvoices) UpdateTotal(ctx context.Context, invoiceID int64, total float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, invoice := range f.byThread {
		if invoice.ID == invoiceID {
			invoice.TotalAmount = total
			return nil
		}
	}
	return storage.ErrInvoiceNotFound
}

func (f *fakeInvoices) ListByUser(ctx context.Context, userID int64) ([]*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*models.Invoice
	for _, invoice := range f.byThread {
		if invoice.UserID == userID {
			result = append(result, invoice)
		}
	}
	return result, nil
}

type fakeCache struct {
	mu            sync.Mutex
	threadMetrics map[int64]*models.ThreadMetrics
	userMetrics   map[int64]*models.UserMetrics
	messageTokens map[int64][2]int
	threadMsgs    map[int64][]cache.CachedMessage
	invalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		threadMetrics: make(map[int64]*models.ThreadMetrics),
		userMetrics:   make(map[int64]*models.UserMetrics),
		messageTokens: make(map[int64][2]int),
		threadMsgs:    make(map[int64][]cache.CachedMessage),
	}
}

func (f *fakeCache) ThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.threadMetrics[threadID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return m, nil
}

func (f *fakeCache) SetThreadMetrics(ctx context.Context, metrics *models.ThreadMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadMetrics[metrics.ThreadID] = metrics
	return nil
}

func (f *fakeCache) UserMetrics(ctx context.Context, userID int64) (*models.UserMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.userMetrics[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return m, nil
}

func (f *fakeCache) SetUserMetrics(ctx context.Context, metrics *models.UserMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userMetrics[metrics.UserID] = metrics
	return nil
}

func (f *fakeCache) SetMessageTokens(ctx context.Context, messageID int64, input, output int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageTokens[messageID] = [2]int{input, output}
	return nil
}

func (f *fakeCache) AppendThreadMessage(ctx context.Context, threadID int64, message cache.CachedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadMsgs[threadID] = append(f.threadMsgs[threadID], message)
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, threadID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.threadMetrics, threadID)
	delete(f.userMetrics, userID)
	f.invalidations++
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakeRefresher) RefreshThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, threadID)
	return &models.ThreadMetrics{ThreadID: threadID}, nil
}

func (f *fakeRefresher) refreshed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}
