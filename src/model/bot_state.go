package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BotStatusNew         = "new"
	BotStatusActive      = "active"
	BotStatusPaused      = "paused"
	BotStatusStopped     = "stopped"
	BotStatusQuarantined = "quarantined"
)

// BotState is the 1:1 runtime state of a bot. Only the lifecycle service
// mutates it; the circuit breaker and the allocator request transitions
// through that service.
type BotState struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	BotID  uint   `gorm:"uniqueIndex;not null" json:"bot_id"`
	Status string `gorm:"size:20;not null;default:new" json:"status"`

	PausedAt     *time.Time `json:"paused_at,omitempty"`
	PauseReason  string     `gorm:"size:255" json:"pause_reason,omitempty"`
	PausedByUser bool       `json:"paused_by_user"`

	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `gorm:"size:255" json:"stop_reason,omitempty"`

	QuarantinedAt    *time.Time `json:"quarantined_at,omitempty"`
	QuarantineReason string     `gorm:"size:255" json:"quarantine_reason,omitempty"`

	CurrentCapital decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"current_capital"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BotState) TableName() string {
	return "bot_states"
}
