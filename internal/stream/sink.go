package stream

import (
	"context"
	"fmt"

	"thread_billing/internal/bus"
	"thread_billing/internal/events"
	"thread_billing/internal/models"
	"thread_billing/internal/utils"
)

// ContentStore persists the final content of a message.
type ContentStore interface {
	UpdateContent(ctx context.Context, id int64, content string) error
}

// MessageSink builds accumulators that persist their content through the
// message store and announce the stored message on the response stream,
// where the usual read-model side effects apply.
type MessageSink struct {
	store  ContentStore
	bus    bus.Bus
	logger *utils.Logger
}

// NewMessageSink creates a sink for streamed assistant messages
func NewMessageSink(store ContentStore, b bus.Bus, logger *utils.Logger) *MessageSink {
	if logger == nil {
		logger = utils.NewLogger("stream")
	}
	return &MessageSink{store: store, bus: b, logger: logger}
}

// ForMessage creates an accumulator for one streamed completion. The flush
// persists whatever content was accumulated, completed or not, and
// publishes the stored message so consumers see the final text.
func (s *MessageSink) ForMessage(msg *models.Message) *Accumulator {
	return NewAccumulator(msg.ID, func(ctx context.Context, id int64, content string, completed bool) error {
		if err := s.store.UpdateContent(ctx, id, content); err != nil {
			return fmt.Errorf("failed to persist streamed content for message %d: %w", id, err)
		}
		if !completed {
			s.logger.Warn("stream cancelled, kept partial content",
				"message_id", id, "chars", len(content))
		}
		return bus.Publish(ctx, s.bus, &events.LLMResponse{
			MessageID: id,
			ThreadID:  msg.ThreadID,
			UserID:    msg.UserID,
			Content:   content,
			Role:      msg.Role,
			ModelID:   msg.ModelID,
			CreatedAt: msg.CreatedAt,
		})
	})
}
