package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerEventFunding    = "funding"
	LedgerEventWithdrawal = "withdrawal"
	LedgerEventAllocation = "allocation"
)

// LedgerEvent records a capital movement that is not tied to a trade fill:
// deposits, withdrawals and reinvestment allocations. Append-only.
type LedgerEvent struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"index;not null" json:"user_id"`
	Type   string `gorm:"size:20;index;not null" json:"type"`

	// BotID is set for allocation events to tie the movement to the bot
	// whose capital was increased.
	BotID *uint `gorm:"index" json:"bot_id,omitempty"`

	Amount      decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	Currency    string          `gorm:"size:10;not null;default:USDT" json:"currency"`
	Description string          `gorm:"size:255" json:"description,omitempty"`

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

func (LedgerEvent) TableName() string {
	return "ledger_events"
}
