package model

import "time"

// User owns bots, capital and ledger history. PasswordHash is a bcrypt hash.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserName     string    `gorm:"size:60;uniqueIndex;not null" json:"user_name"`
	Email        string    `gorm:"size:120" json:"email,omitempty"`
	PasswordHash string    `gorm:"size:120;column:password_hash" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
