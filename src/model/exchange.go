package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange describes a venue bots trade on, including the published fee
// schedule and the external rate limit the trade limiter divides across the
// bots that share the account.
type Exchange struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:60;uniqueIndex;not null" json:"name"`

	MakerFeeBps decimal.Decimal `gorm:"type:numeric(10,4)" json:"maker_fee_bps"`
	TakerFeeBps decimal.Decimal `gorm:"type:numeric(10,4)" json:"taker_fee_bps"`

	// RateLimitPerMinute is the venue's account-wide order rate limit.
	RateLimitPerMinute int `gorm:"not null;default:60" json:"rate_limit_per_minute"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Exchange) TableName() string {
	return "exchanges"
}
