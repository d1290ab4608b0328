package models

import (
	"time"
)

// MessageRole is the side of the conversation a message belongs to.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// TokenType distinguishes prompt tokens from completion tokens.
type TokenType string

const (
	TokenTypeInput  TokenType = "input"
	TokenTypeOutput TokenType = "output"
)

// Thread is a chat conversation owned by a user.
type Thread struct {
	ID        int64     `db:"thread_id" json:"thread_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	ModelID   int64     `db:"model_id" json:"model_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one side of a chat turn. TokenCount is a denormalized cache of
// the token total matching the message's own role (input for user messages,
// output for assistant messages); the authoritative counts live in
// message_tokens.
type Message struct {
	ID         int64       `db:"message_id" json:"message_id"`
	ThreadID   int64       `db:"thread_id" json:"thread_id"`
	UserID     int64       `db:"user_id" json:"user_id"`
	ModelID    int64       `db:"model_id" json:"model_id"`
	Role       MessageRole `db:"role" json:"role"`
	Content    string      `db:"content" json:"content"`
	TokenCount *int        `db:"token_count" json:"token_count,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}
