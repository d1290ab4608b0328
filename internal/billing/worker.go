package billing

import (
	"context"
	"fmt"
	"time"

	"thread_billing/internal/bus"
	"thread_billing/internal/events"
	"thread_billing/internal/utils"
)

// HandlerFunc processes one envelope. A non-nil error parks the envelope in
// the dead letter queue; there is no automatic retry.
type HandlerFunc func(ctx context.Context, env *events.Envelope) error

// StreamWorker consumes one event stream and feeds envelopes to a handler.
// Each envelope gets exactly one attempt: handlers are idempotent, so
// failed envelopes are parked in the dead letter queue and replayed
// manually once the underlying fault is fixed.
type StreamWorker struct {
	stream  events.Stream
	bus     bus.Bus
	dlq     bus.DeadLetterQueue
	handler HandlerFunc

	batchSize    int
	fetchTimeout time.Duration

	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// WorkerParams bundles the dependencies of a StreamWorker.
type WorkerParams struct {
	Stream       events.Stream
	Bus          bus.Bus
	DLQ          bus.DeadLetterQueue
	Handler      HandlerFunc
	BatchSize    int
	FetchTimeout time.Duration
	Logger       *utils.Logger
}

// NewStreamWorker creates a worker for one stream
func NewStreamWorker(p WorkerParams) *StreamWorker {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	fetchTimeout := p.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = utils.NewLogger(fmt.Sprintf("worker:%s", p.Stream))
	}
	return &StreamWorker{
		stream:       p.Stream,
		bus:          p.Bus,
		dlq:          p.DLQ,
		handler:      p.Handler,
		batchSize:    batchSize,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		stopChan:     make(chan struct{}),
		stoppedChan:  make(chan struct{}),
	}
}

// Start launches the consume loop in a goroutine
func (w *StreamWorker) Start() {
	go w.run()
}

// Stop signals the worker to finish its current batch and waits for it to
// exit
func (w *StreamWorker) Stop() {
	close(w.stopChan)
	<-w.stoppedChan
}

func (w *StreamWorker) run() {
	defer close(w.stoppedChan)

	ctx := context.Background()
	w.logger.Info("worker started", "stream", w.stream)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("worker stopped", "stream", w.stream)
			return
		default:
		}

		batch, err := w.bus.Fetch(ctx, w.stream, w.batchSize, w.fetchTimeout)
		if err != nil {
			if err == bus.ErrBusClosed {
				w.logger.Info("bus closed, worker exiting", "stream", w.stream)
				return
			}
			w.logger.Error("fetch failed", "stream", w.stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, env := range batch {
			w.process(ctx, env)
		}
	}
}

// process runs the handler for one envelope and parks it on failure
func (w *StreamWorker) process(ctx context.Context, env *events.Envelope) {
	if err := w.handler(ctx, env); err != nil {
		w.logger.Error("envelope failed, parking in dead letter queue",
			"stream", w.stream, "envelope_id", env.ID, "error", err)
		if dlqErr := w.dlq.Add(ctx, env, err); dlqErr != nil {
			w.logger.Error("failed to park envelope", "envelope_id", env.ID, "error", dlqErr)
		}
	}
}

// Replay reprocesses one parked envelope by id and removes it from the
// dead letter queue on success.
func (w *StreamWorker) Replay(ctx context.Context, envelopeID string) error {
	entries, err := w.dlq.List(ctx, w.stream, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter queue: %w", err)
	}

	for _, entry := range entries {
		if entry.Envelope.ID != envelopeID {
			continue
		}
		if err := w.handler(ctx, entry.Envelope); err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		return w.dlq.Remove(ctx, w.stream, envelopeID)
	}

	return bus.ErrEntryNotFound
}
