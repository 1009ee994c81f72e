package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Fill is an executed trade. Rows are append-only: once written they are
// never updated or deleted, and every derived number (equity, PnL, drawdown)
// must be reproducible by replaying them from genesis.
type Fill struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"index;not null" json:"user_id"`
	BotID    uint   `gorm:"index;not null" json:"bot_id"`
	Exchange string `gorm:"size:60;not null" json:"exchange"`
	Symbol   string `gorm:"size:30;index;not null" json:"symbol"`
	Side     string `gorm:"size:4;not null" json:"side"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	Price  decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"price"`
	Fee    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"fee"`

	FeeCurrency string `gorm:"size:10;not null;default:USDT" json:"fee_currency"`

	// OrderID is the venue-assigned order identifier.
	OrderID        string `gorm:"size:100" json:"order_id"`
	IdempotencyKey string `gorm:"size:64;uniqueIndex;not null" json:"idempotency_key"`

	IsPaper   bool      `gorm:"not null;default:false" json:"is_paper"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`

	CreatedAt time.Time `json:"created_at"`
}

func (Fill) TableName() string {
	return "fills"
}
