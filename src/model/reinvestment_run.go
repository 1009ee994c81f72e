package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReinvestmentRunCompleted = "completed"
	ReinvestmentRunNoOp      = "no_op"
)

// ReinvestmentRun records one allocator execution. The unique index on
// (user_id, window_key) is what makes scheduling idempotent: a retried
// trigger inside the same cadence window fails the insert and is treated as
// already-run.
type ReinvestmentRun struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index:idx_reinvest_window,unique;not null" json:"user_id"`

	// WindowKey identifies the cadence window, e.g. "2026-08-28" for a
	// daily cadence.
	WindowKey string `gorm:"size:20;index:idx_reinvest_window,unique;not null" json:"window_key"`

	Status string `gorm:"size:20;not null" json:"status"`

	// ProfitBaseline is total realized PnL at run time; the next run's
	// "profit since last run" is its own total minus this value.
	ProfitBaseline decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"profit_baseline"`

	RealizedProfit decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"realized_profit"`
	Allocated      decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"allocated"`

	// Breakdown maps bot id to allocated amount.
	Breakdown map[string]any `gorm:"type:jsonb;serializer:json" json:"breakdown,omitempty"`

	RanAt     time.Time `gorm:"not null" json:"ran_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (ReinvestmentRun) TableName() string {
	return "reinvestment_runs"
}
