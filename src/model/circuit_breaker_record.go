package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BreakerEntityBot  = "bot"
	BreakerEntityUser = "user"
)

// Severity classes decided at trip time. Soft trips pause the bot (user can
// resume), hard trips quarantine it (manual reset required).
const (
	BreakerSeveritySoft = "soft"
	BreakerSeverityHard = "hard"
)

// CircuitBreakerRecord is one entry in the append-only trip/reset history of
// an entity. The current state of an entity is its latest record. Rows are
// never edited or deleted.
type CircuitBreakerRecord struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EntityType string `gorm:"size:10;index:idx_breaker_entity;not null" json:"entity_type"`
	EntityID   uint   `gorm:"index:idx_breaker_entity;not null" json:"entity_id"`

	IsTripped  bool   `gorm:"not null" json:"is_tripped"`
	Severity   string `gorm:"size:10" json:"severity,omitempty"`
	TripReason string `gorm:"size:255" json:"trip_reason,omitempty"`

	// Metrics snapshot at evaluation time.
	DrawdownPct       decimal.Decimal `gorm:"type:numeric(10,4)" json:"drawdown_pct"`
	DailyLossPct      decimal.Decimal `gorm:"type:numeric(10,4)" json:"daily_loss_pct"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	ErrorsPerHour     int             `json:"errors_per_hour"`

	TrippedAt   *time.Time `json:"tripped_at,omitempty"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
	ResetReason string     `gorm:"size:255" json:"reset_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (CircuitBreakerRecord) TableName() string {
	return "circuit_breaker_records"
}
