package model

import "time"

// UserExchange stores a user's credentials and settings for one exchange
// account. Key and secret are stored encrypted (AES-GCM, see src/security)
// and decrypted only when a connector is built.
type UserExchange struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	UserID     uint `gorm:"not null;index:idx_user_exchange,unique" json:"user_id"`
	ExchangeID uint `gorm:"not null;index:idx_user_exchange,unique" json:"exchange_id"`

	APIKeyHash    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash string `gorm:"column:api_secret;type:text" json:"-"`

	// RiskMode selects a circuit-breaker threshold profile for bots on this
	// account (see src/risk).
	RiskMode string `gorm:"size:20;not null;default:normal" json:"risk_mode"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Exchange *Exchange `gorm:"constraint:OnDelete:CASCADE" json:"exchange,omitempty"`
}

func (UserExchange) TableName() string {
	return "user_exchanges"
}
