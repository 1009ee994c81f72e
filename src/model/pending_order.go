package model

import "time"

const (
	PendingStatusPending   = "pending"
	PendingStatusSubmitted = "submitted"
	PendingStatusFilled    = "filled"
	PendingStatusCancelled = "cancelled"
	PendingStatusFailed    = "failed"
)

// PendingOrder is the exactly-once admission record. The unique index on
// IdempotencyKey is what makes the idempotency gate atomic: the losing
// concurrent writer gets a duplicate-key error from the database, never a
// second row. Status transitions are monotonic; filled and cancelled never
// regress.
type PendingOrder struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	IdempotencyKey string `gorm:"size:64;uniqueIndex;not null" json:"idempotency_key"`
	BotID          uint   `gorm:"index;not null" json:"bot_id"`
	Status         string `gorm:"size:20;not null;default:pending" json:"status"`

	// Reason records why a terminal status was reached (gate rejection,
	// exchange error).
	Reason string `gorm:"size:255" json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PendingOrder) TableName() string {
	return "pending_orders"
}

// pendingRank orders statuses so transitions can be validated as monotonic.
var pendingRank = map[string]int{
	PendingStatusPending:   0,
	PendingStatusSubmitted: 1,
	PendingStatusFilled:    2,
	PendingStatusCancelled: 2,
	PendingStatusFailed:    2,
}

// CanTransitionTo reports whether moving from the current status to next is a
// legal, non-regressing transition.
func (p *PendingOrder) CanTransitionTo(next string) bool {
	curRank, ok := pendingRank[p.Status]
	if !ok {
		return false
	}
	nextRank, ok := pendingRank[next]
	if !ok {
		return false
	}
	if curRank >= 2 {
		return false
	}
	return nextRank > curRank
}
