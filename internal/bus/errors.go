package bus

import "errors"

var (
	// ErrBusClosed is returned when operating on a closed bus
	ErrBusClosed = errors.New("bus is closed")

	// ErrEntryNotFound is returned when a dead letter entry does not exist
	ErrEntryNotFound = errors.New("dead letter entry not found")
)
