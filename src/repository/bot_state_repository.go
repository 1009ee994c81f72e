package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// BotStateRepository handles the 1:1 runtime state of bots. Writes go
// through the lifecycle service; nothing else should call Save.
type BotStateRepository struct {
	db *gorm.DB
}

// NewBotStateRepository creates a new repository instance using the main
// read/write database.
func NewBotStateRepository() *BotStateRepository {
	return &BotStateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *BotStateRepository) WithDB(db *gorm.DB) *BotStateRepository {
	return &BotStateRepository{db: db}
}

// FindByBotID fetches the state row for a bot.
// Returns (nil, nil) if not found.
func (r *BotStateRepository) FindByBotID(ctx context.Context, botID uint) (*model.BotState, error) {
	var state model.BotState

	err := r.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		First(&state).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "BotStateRepository",
			"op":     "FindByBotID",
			"bot_id": botID,
		}).WithError(err).Error("Failed to fetch bot state")

		return nil, err
	}

	return &state, nil
}

// Save persists the full state row.
func (r *BotStateRepository) Save(ctx context.Context, state *model.BotState) error {
	err := r.db.WithContext(ctx).Save(state).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotStateRepository",
			"op":     "Save",
			"bot_id": state.BotID,
			"status": state.Status,
		}).WithError(err).Error("Failed to save bot state")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "BotStateRepository",
		"op":     "Save",
		"bot_id": state.BotID,
		"status": state.Status,
	}).Debug("Bot state saved")

	return nil
}

// IncreaseCapital atomically adds amount to a bot's current capital.
func (r *BotStateRepository) IncreaseCapital(ctx context.Context, botID uint, amount decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&model.BotState{}).
		Where("bot_id = ?", botID).
		Update("current_capital", gorm.Expr("current_capital + ?", amount))

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "BotStateRepository",
			"op":     "IncreaseCapital",
			"bot_id": botID,
			"amount": amount.String(),
		}).WithError(res.Error).Error("Failed to increase bot capital")

		return res.Error
	}

	if res.RowsAffected == 0 {
		return errors.New("bot state not found for capital increase")
	}

	return nil
}

// TotalCapital sums the current capital of every bot owned by a user. Used
// as the external equity view during ledger reconciliation.
func (r *BotStateRepository) TotalCapital(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var total decimal.NullDecimal

	err := r.db.WithContext(ctx).
		Model(&model.BotState{}).
		Select("SUM(bot_states.current_capital)").
		Joins("JOIN bots ON bots.id = bot_states.bot_id").
		Where("bots.user_id = ?", userID).
		Scan(&total).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "BotStateRepository",
			"op":      "TotalCapital",
			"user_id": userID,
		}).WithError(err).Error("Failed to sum bot capital")

		return decimal.Zero, err
	}

	if !total.Valid {
		return decimal.Zero, nil
	}

	return total.Decimal, nil
}

// ListByUser returns the state rows of every bot owned by a user.
func (r *BotStateRepository) ListByUser(ctx context.Context, userID uint) ([]model.BotState, error) {
	var states []model.BotState

	err := r.db.WithContext(ctx).
		Joins("JOIN bots ON bots.id = bot_states.bot_id").
		Where("bots.user_id = ?", userID).
		Order("bot_states.bot_id ASC").
		Find(&states).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "BotStateRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list bot states")

		return nil, err
	}

	return states, nil
}
