package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// FillRepository handles the append-only fills store. Fills are never
// updated or deleted; there are intentionally no Update/Delete methods here.
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a new repository instance using the main
// read/write database.
func NewFillRepository() *FillRepository {
	return &FillRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *FillRepository) WithDB(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Append inserts a new fill. The unique index on idempotency_key makes a
// duplicate append surface as gorm.ErrDuplicatedKey.
func (r *FillRepository) Append(ctx context.Context, fill *model.Fill) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "FillRepository",
		"op":     "Append",
		"bot_id": fill.BotID,
		"symbol": fill.Symbol,
		"side":   fill.Side,
	}).Debug("Appending fill")

	err := r.db.WithContext(ctx).Create(fill).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FillRepository",
			"op":   "Append",
		}).WithError(err).Error("Failed to append fill")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "FillRepository",
		"op":      "Append",
		"fill_id": fill.ID,
	}).Info("Fill appended")

	return nil
}

// ListByUser returns every fill for a user in replay order (timestamp, then
// id for same-instant fills).
func (r *FillRepository) ListByUser(ctx context.Context, userID uint) ([]model.Fill, error) {
	var fills []model.Fill

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp ASC, id ASC").
		Find(&fills).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "FillRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list fills")

		return nil, err
	}

	return fills, nil
}

// ListByBot returns every fill for a single bot in replay order.
func (r *FillRepository) ListByBot(ctx context.Context, userID, botID uint) ([]model.Fill, error) {
	var fills []model.Fill

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND bot_id = ?", userID, botID).
		Order("timestamp ASC, id ASC").
		Find(&fills).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "FillRepository",
			"op":     "ListByBot",
			"bot_id": botID,
		}).WithError(err).Error("Failed to list fills for bot")

		return nil, err
	}

	return fills, nil
}

// ListByBotSince returns a bot's fills at or after the given time, in replay
// order. Used by the circuit breaker for daily-loss and streak metrics.
func (r *FillRepository) ListByBotSince(ctx context.Context, userID, botID uint, since time.Time) ([]model.Fill, error) {
	var fills []model.Fill

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND bot_id = ? AND timestamp >= ?", userID, botID, since).
		Order("timestamp ASC, id ASC").
		Find(&fills).Error

	if err != nil {
		return nil, err
	}

	return fills, nil
}
