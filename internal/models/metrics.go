package models

import (
	"time"
)

// ThreadMetrics is the derived read model for a thread's billing totals.
// It is a projection: always reconstructible from messages, message_tokens
// and token_prices, and safe to drop from the cache at any time.
type ThreadMetrics struct {
	ThreadID     int64     `json:"thread_id"`
	MessageCount int       `json:"total_messages"`
	InputTokens  int64     `json:"total_input_tokens"`
	OutputTokens int64     `json:"total_output_tokens"`
	TotalCost    float64   `json:"total_cost"`
	LastActivity time.Time `json:"last_activity"`
}

// UserMetrics carries the per-thread metrics of all of a user's threads
// plus totals across them. Cached as one blob per user.
type UserMetrics struct {
	UserID       int64            `json:"user_id"`
	ThreadCount  int              `json:"total_threads"`
	MessageCount int              `json:"total_messages"`
	InputTokens  int64            `json:"total_input_tokens"`
	OutputTokens int64            `json:"total_output_tokens"`
	TotalCost    float64          `json:"total_cost"`
	LastActivity time.Time        `json:"last_activity"`
	Threads      []*ThreadMetrics `json:"threads"`
}
