package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"thread_billing/internal/models"
	"thread_billing/internal/storage"
	"thread_billing/internal/utils"
)

// MetricsSource provides the thread metrics an invoice total snapshots.
type MetricsSource interface {
	ThreadMetrics(ctx context.Context, threadID int64, forceRefresh bool) (*models.ThreadMetrics, error)
}

// InvoiceGenerator creates per-thread invoices. Generation is idempotent:
// a thread has at most one invoice, and repeated requests return the
// existing one. After an invoice is created the thread's ledger is
// reconciled in the background and the invoice total corrected if the
// recomputed metrics disagree.
type InvoiceGenerator struct {
	invoices InvoiceStore
	threads  ThreadStore
	messages MessageStore
	tokens   TokenStore
	pricing  PriceStore
	metrics  MetricsSource
	defaults configPricing
	logger   *utils.Logger

	wg sync.WaitGroup
}

type configPricing struct {
	InputTokenPrice  float64
	OutputTokenPrice float64
}

// InvoiceParams bundles the dependencies of an InvoiceGenerator.
type InvoiceParams struct {
	Invoices InvoiceStore
	Threads  ThreadStore
	Messages MessageStore
	Tokens   TokenStore
	Pricing  PriceStore
	Metrics  MetricsSource

	DefaultInputTokenPrice  float64
	DefaultOutputTokenPrice float64

	Logger *utils.Logger
}

// NewInvoiceGenerator creates a new invoice generator
func NewInvoiceGenerator(p InvoiceParams) *InvoiceGenerator {
	logger := p.Logger
	if logger == nil {
		logger = utils.NewLogger("invoices")
	}
	return &InvoiceGenerator{
		invoices: p.Invoices,
		threads:  p.Threads,
		messages: p.Messages,
		tokens:   p.Tokens,
		pricing:  p.Pricing,
		metrics:  p.Metrics,
		defaults: configPricing{
			InputTokenPrice:  p.DefaultInputTokenPrice,
			OutputTokenPrice: p.DefaultOutputTokenPrice,
		},
		logger: logger,
	}
}

// Generate returns the invoice for a thread, creating it when none exists.
// The total snapshots the thread's current billing metrics, so threads
// whose cost comes from the denormalized token counts invoice correctly
// even without ledger rows. A background reconciliation is started for
// newly created invoices.
func (g *InvoiceGenerator) Generate(ctx context.Context, threadID int64) (*models.Invoice, error) {
	existing, err := g.invoices.GetByThread(ctx, threadID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrInvoiceNotFound) {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	thread, err := g.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}

	metrics, err := g.metrics.ThreadMetrics(ctx, threadID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot thread metrics: %w", err)
	}

	invoice := &models.Invoice{
		UserID:      thread.UserID,
		ThreadID:    threadID,
		TotalAmount: metrics.TotalCost,
		Status:      models.InvoiceStatusPending,
	}
	if err := g.invoices.Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.reconcile(context.WithoutCancel(ctx), invoice)
	}()

	return invoice, nil
}

// InvoicesForUser returns all invoices of a user, newest first
func (g *InvoiceGenerator) InvoicesForUser(ctx context.Context, userID int64) ([]*models.Invoice, error) {
	return g.invoices.ListByUser(ctx, userID)
}

// Wait blocks until all in-flight reconciliations finish. Called on
// shutdown and by tests.
func (g *InvoiceGenerator) Wait() {
	g.wg.Wait()
}

// reconcile replays the thread's token ledger through the pricing path,
// then recomputes the thread metrics and corrects the invoice total when
// the fresh value disagrees with the snapshot taken at generation time.
// The replay reuses ReplaceTokenUsage, so running it against an
// already-consistent ledger changes nothing, and the metrics recompute
// covers threads billed through the denormalized token counts.
func (g *InvoiceGenerator) reconcile(ctx context.Context, invoice *models.Invoice) {
	messages, err := g.messages.ListByThread(ctx, invoice.ThreadID)
	if err != nil {
		g.logger.Error("reconciliation failed to list messages",
			"thread_id", invoice.ThreadID, "error", err)
		return
	}

	for _, message := range messages {
		if err := g.replayMessage(ctx, message); err != nil {
			g.logger.Error("reconciliation failed to replay message",
				"message_id", message.ID, "error", err)
			return
		}
	}

	metrics, err := g.metrics.ThreadMetrics(ctx, invoice.ThreadID, true)
	if err != nil {
		g.logger.Error("reconciliation failed to recompute metrics",
			"thread_id", invoice.ThreadID, "error", err)
		return
	}

	total := metrics.TotalCost
	if total == invoice.TotalAmount {
		return
	}

	g.logger.Warn("invoice total corrected by reconciliation",
		"invoice_id", invoice.ID, "previous", invoice.TotalAmount, "corrected", total)
	if err := g.invoices.UpdateTotal(ctx, invoice.ID, total); err != nil {
		g.logger.Error("reconciliation failed to update invoice",
			"invoice_id", invoice.ID, "error", err)
		return
	}
	invoice.TotalAmount = total
}

// replayMessage reprices one message from its ledger token rows.
func (g *InvoiceGenerator) replayMessage(ctx context.Context, message *models.Message) error {
	tokens, err := g.tokens.ListByMessage(ctx, message.ID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	var input, output int
	for _, token := range tokens {
		switch token.TokenType {
		case models.TokenTypeInput:
			input += token.TokenCount
		case models.TokenTypeOutput:
			output += token.TokenCount
		}
	}

	inputPrice := g.defaults.InputTokenPrice
	outputPrice := g.defaults.OutputTokenPrice
	var priceID *int64
	price, err := g.pricing.CurrentTokenPrice(ctx, message.ModelID)
	switch {
	case err == nil:
		inputPrice = price.InputTokenPrice
		outputPrice = price.OutputTokenPrice
		priceID = &price.ID
	case errors.Is(err, storage.ErrPriceNotFound):
		// defaults apply
	default:
		return err
	}

	return g.tokens.ReplaceTokenUsage(ctx, storage.ReplaceTokenUsageParams{
		MessageID:    message.ID,
		Role:         message.Role,
		InputTokens:  input,
		OutputTokens: output,
		InputPrice:   inputPrice,
		OutputPrice:  outputPrice,
		PriceID:      priceID,
	})
}
