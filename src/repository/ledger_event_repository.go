package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// LedgerEventRepository handles the append-only ledger-events store
// (funding, withdrawals, allocations).
type LedgerEventRepository struct {
	db *gorm.DB
}

// NewLedgerEventRepository creates a new repository instance using the main
// read/write database.
func NewLedgerEventRepository() *LedgerEventRepository {
	return &LedgerEventRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *LedgerEventRepository) WithDB(db *gorm.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

// Append inserts a new ledger event.
func (r *LedgerEventRepository) Append(ctx context.Context, event *model.LedgerEvent) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "LedgerEventRepository",
		"op":      "Append",
		"user_id": event.UserID,
		"type":    event.Type,
		"amount":  event.Amount.String(),
	}).Debug("Appending ledger event")

	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "LedgerEventRepository",
			"op":   "Append",
		}).WithError(err).Error("Failed to append ledger event")

		return err
	}

	return nil
}

// ListByUser returns every ledger event for a user in replay order.
func (r *LedgerEventRepository) ListByUser(ctx context.Context, userID uint) ([]model.LedgerEvent, error) {
	var events []model.LedgerEvent

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC, id ASC").
		Find(&events).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "LedgerEventRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list ledger events")

		return nil, err
	}

	return events, nil
}
