package models

import (
	"time"
)

// TokenPrice is an SCD Type 2 row for per-token pricing. At most one row per
// model is current at any time; setting a new price closes the prior current
// row in the same transaction.
type TokenPrice struct {
	ID               int64      `db:"pricing_id" json:"pricing_id"`
	ModelID          int64      `db:"model_id" json:"model_id"`
	InputTokenPrice  float64    `db:"input_token_price" json:"input_token_price"`
	OutputTokenPrice float64    `db:"output_token_price" json:"output_token_price"`
	EffectiveFrom    time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo      *time.Time `db:"effective_to" json:"effective_to,omitempty"`
	IsCurrent        bool       `db:"is_current" json:"is_current"`
}

// ResourcePrice is the SCD Type 2 row for non-token resource pricing, keyed
// by (model, event type).
type ResourcePrice struct {
	ID            int64      `db:"resource_pricing_id" json:"resource_pricing_id"`
	ModelID       int64      `db:"model_id" json:"model_id"`
	EventTypeID   int64      `db:"event_type_id" json:"event_type_id"`
	UnitPrice     float64    `db:"unit_price" json:"unit_price"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`
	IsCurrent     bool       `db:"is_current" json:"is_current"`
}
