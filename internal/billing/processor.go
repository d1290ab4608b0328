// Package billing turns usage events into ledger rows, keeps the derived
// metrics cache consistent, and generates per-thread invoices.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thread_billing/internal/cache"
	"thread_billing/internal/config"
	"thread_billing/internal/events"
	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// Refresher recomputes thread metrics from the ledger.
type Refresher interface {
	RefreshThreadMetrics(ctx context.Context, threadID int64) (*models.ThreadMetrics, error)
}

// Processor applies usage events to the billing ledger. Every handler is
// idempotent: redelivering an event converges to the same rows.
type Processor struct {
	messages  MessageStore
	tokens    TokenStore
	pricing   PriceStore
	resources ResourceStore
	cache     ReadModelCache
	refresher Refresher
	defaults  config.PricingConfig

	// settlingDelay is how long to wait after a ledger commit before
	// eagerly recomputing metrics, so same-turn writes land first.
	settlingDelay time.Duration

	logger *utils.Logger
}

// ProcessorParams bundles the dependencies of a Processor.
type ProcessorParams struct {
	Messages      MessageStore
	Tokens        TokenStore
	Pricing       PriceStore
	Resources     ResourceStore
	Cache         ReadModelCache
	Refresher     Refresher
	Defaults      config.PricingConfig
	SettlingDelay time.Duration
	Logger        *utils.Logger
}

// NewProcessor creates a new event processor
func NewProcessor(p ProcessorParams) *Processor {
	logger := p.Logger
	if logger == nil {
		logger = utils.NewLogger("processor")
	}
	return &Processor{
		messages:      p.Messages,
		tokens:        p.Tokens,
		pricing:       p.Pricing,
		resources:     p.Resources,
		cache:         p.Cache,
		refresher:     p.Refresher,
		defaults:      p.Defaults,
		settlingDelay: p.SettlingDelay,
		logger:        logger,
	}
}

// HandleEnvelope decodes an envelope and dispatches it to the handler for
// its stream.
func (p *Processor) HandleEnvelope(ctx context.Context, env *events.Envelope) error {
	event, err := events.Decode(env)
	if err != nil {
		return fmt.Errorf("failed to decode envelope %s: %w", env.ID, err)
	}

	switch e := event.(type) {
	case *events.RawMessage:
		return p.HandleRawMessage(ctx, e)
	case *events.LLMResponse:
		return p.HandleLLMResponse(ctx, e)
	case *events.TokenMetrics:
		return p.HandleTokenMetrics(ctx, e)
	case *events.InferenceEvent:
		return p.HandleInferenceEvent(ctx, e)
	default:
		return fmt.Errorf("no handler for stream %s", env.Stream)
	}
}

// HandleRawMessage records a stored user message in the thread message
// cache and invalidates the affected metrics. Side effects only: pricing
// happens exclusively on the token metrics stream.
func (p *Processor) HandleRawMessage(ctx context.Context, e *events.RawMessage) error {
	err := p.cache.AppendThreadMessage(ctx, e.ThreadID, cache.CachedMessage{
		MessageID: e.MessageID,
		Role:      string(e.Role),
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		p.logger.Warn("failed to cache thread message", "message_id", e.MessageID, "error", err)
	}

	p.cache.Invalidate(ctx, e.ThreadID, e.UserID)
	return nil
}

// HandleLLMResponse records a stored assistant completion in the thread
// message cache. No pricing happens here: token counts are billed only via
// the token metrics stream, so message storage proceeds even when pricing
// data is transiently unavailable.
func (p *Processor) HandleLLMResponse(ctx context.Context, e *events.LLMResponse) error {
	err := p.cache.AppendThreadMessage(ctx, e.ThreadID, cache.CachedMessage{
		MessageID: e.MessageID,
		Role:      string(e.Role),
		Content:   e.Content,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		p.logger.Warn("failed to cache thread message", "message_id", e.MessageID, "error", err)
	}

	// Provisional counts for fast reads; the ledger write waits for the
	// authoritative token metrics event.
	if e.TokenUsage.InputTokens > 0 || e.TokenUsage.OutputTokens > 0 {
		err := p.cache.SetMessageTokens(ctx, e.MessageID, e.TokenUsage.InputTokens, e.TokenUsage.OutputTokens)
		if err != nil {
			p.logger.Warn("failed to cache message tokens", "message_id", e.MessageID, "error", err)
		}
	}

	p.cache.Invalidate(ctx, e.ThreadID, e.UserID)
	return nil
}

// HandleTokenMetrics applies authoritative token counts for a message.
// Events referencing a message that does not exist are dropped: the
// message was deleted or the event is stale, and retrying cannot help.
func (p *Processor) HandleTokenMetrics(ctx context.Context, e *events.TokenMetrics) error {
	message, err := p.messages.GetByID(ctx, e.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			p.logger.Warn("dropping token metrics for unknown message", "message_id", e.MessageID)
			return nil
		}
		return fmt.Errorf("failed to load message %d: %w", e.MessageID, err)
	}

	usage := tokenUsage{
		messageID: message.ID,
		modelID:   e.ModelID,
		role:      message.Role,
		input:     e.TokenUsage.InputTokens,
		output:    e.TokenUsage.OutputTokens,
	}
	if err := p.recordTokens(ctx, usage); err != nil {
		return err
	}

	p.cache.Invalidate(ctx, message.ThreadID, message.UserID)
	p.settleAndRefresh(ctx, message.ThreadID)
	return nil
}

// HandleInferenceEvent records a non-token billable event. Events whose
// type has no current price are recorded without a line item; they become
// billable once a price is configured.
func (p *Processor) HandleInferenceEvent(ctx context.Context, e *events.InferenceEvent) error {
	eventType, err := p.resources.GetOrCreateEventType(ctx, e.EventType)
	if err != nil {
		return fmt.Errorf("failed to resolve event type %q: %w", e.EventType, err)
	}

	event := &models.ResourceEvent{
		MessageID:   e.MessageID,
		UserID:      e.UserID,
		EventTypeID: eventType.ID,
		ModelID:     e.ModelID,
		Quantity:    e.Quantity,
	}
	if err := p.resources.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record resource event: %w", err)
	}

	price, err := p.pricing.CurrentResourcePrice(ctx, e.ModelID, eventType.ID)
	if err != nil {
		if errors.Is(err, storage.ErrPriceNotFound) {
			p.logger.Warn("resource event has no current price",
				"event_type", e.EventType, "model_id", e.ModelID)
			return nil
		}
		return fmt.Errorf("failed to resolve resource price: %w", err)
	}

	item := &models.ResourceLineItem{
		EventID:         event.ID,
		UserID:          e.UserID,
		ResourcePriceID: price.ID,
		Quantity:        e.Quantity,
		Amount:          storage.Round6(e.Quantity * price.UnitPrice),
	}
	if err := p.resources.InsertLineItem(ctx, item); err != nil {
		return fmt.Errorf("failed to record resource line item: %w", err)
	}

	return nil
}

type tokenUsage struct {
	messageID int64
	modelID   int64
	role      models.MessageRole
	input     int
	output    int
}

// recordTokens resolves prices and replaces the message's token ledger
// rows. Events carrying no counts replace nothing and leave both the
// ledger and the cached counts alone. Billing never blocks on missing
// pricing: when no current row exists the configured default prices apply
// and the line items carry no pricing reference.
func (p *Processor) recordTokens(ctx context.Context, u tokenUsage) error {
	if u.input == 0 && u.output == 0 {
		p.logger.Warn("token metrics carry no counts", "message_id", u.messageID)
		return nil
	}

	inputPrice := p.defaults.DefaultInputTokenPrice
	outputPrice := p.defaults.DefaultOutputTokenPrice
	var priceID *int64

	price, err := p.pricing.CurrentTokenPrice(ctx, u.modelID)
	switch {
	case err == nil:
		inputPrice = price.InputTokenPrice
		outputPrice = price.OutputTokenPrice
		priceID = &price.ID
	case errors.Is(err, storage.ErrPriceNotFound):
		p.logger.Warn("no current token price, using defaults", "model_id", u.modelID)
	default:
		return fmt.Errorf("failed to resolve token price: %w", err)
	}

	err = p.tokens.ReplaceTokenUsage(ctx, storage.ReplaceTokenUsageParams{
		MessageID:    u.messageID,
		Role:         u.role,
		InputTokens:  u.input,
		OutputTokens: u.output,
		InputPrice:   inputPrice,
		OutputPrice:  outputPrice,
		PriceID:      priceID,
	})
	if err != nil {
		return fmt.Errorf("failed to replace token usage: %w", err)
	}

	if err := p.cache.SetMessageTokens(ctx, u.messageID, u.input, u.output); err != nil {
		p.logger.Warn("failed to cache message tokens", "message_id", u.messageID, "error", err)
	}

	return nil
}

// settleAndRefresh waits out the settling delay and eagerly recomputes the
// thread's metrics so the next read is a cache hit. Refresh failures are
// logged and swallowed: the ledger is already consistent and a later read
// recomputes on miss.
func (p *Processor) settleAndRefresh(ctx context.Context, threadID int64) {
	if p.refresher == nil {
		return
	}

	if p.settlingDelay > 0 {
		select {
		case <-time.After(p.settlingDelay):
		case <-ctx.Done():
			return
		}
	}

	if _, err := p.refresher.RefreshThreadMetrics(ctx, threadID); err != nil {
		p.logger.Warn("failed to refresh thread metrics", "thread_id", threadID, "error", err)
	}
}
