package storage

import "errors"

var (
	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrThreadNotFound is returned when a thread is not found
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound is returned when a message is not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrPriceNotFound is returned when no current pricing row exists
	ErrPriceNotFound = errors.New("price not found")

	// ErrInvoiceNotFound is returned when an invoice is not found
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrEventTypeNotFound is returned when an event type is not found
	ErrEventTypeNotFound = errors.New("event type not found")
)
