package models

// Model represents an AI model dimension row. Immutable once referenced by
// priced records.
type Model struct {
	ID          int64  `db:"model_id" json:"model_id"`
	Name        string `db:"model_name" json:"model_name"`
	Description string `db:"description" json:"description"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// EventType represents a resource event type dimension row. Rows are created
// lazily the first time an event of a new type arrives.
type EventType struct {
	ID            int64  `db:"event_type_id" json:"event_type_id"`
	Name          string `db:"event_name" json:"event_name"`
	Description   string `db:"description" json:"description"`
	UnitOfMeasure string `db:"unit_of_measure" json:"unit_of_measure"`
	IsActive      bool   `db:"is_active" json:"is_active"`
}
