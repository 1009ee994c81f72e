package model

import "time"

// Bot is a single autonomous trading unit. Runtime status and capital live in
// BotState; Bot itself only carries identity and trading target.
type Bot struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"index;not null" json:"user_id"`
	ExchangeID uint   `gorm:"index;not null" json:"exchange_id"`
	Name       string `gorm:"size:100;not null" json:"name"`
	Symbol     string `gorm:"size:30;not null" json:"symbol"`
	IsPaper    bool   `gorm:"not null;default:false" json:"is_paper"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Exchange *Exchange `gorm:"constraint:OnDelete:CASCADE" json:"exchange,omitempty"`
}

func (Bot) TableName() string {
	return "bots"
}
