package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// BotRepository handles bot identity rows. Runtime state lives in
// BotStateRepository.
type BotRepository struct {
	db *gorm.DB
}

// NewBotRepository creates a new repository instance using the main
// read/write database.
func NewBotRepository() *BotRepository {
	return &BotRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *BotRepository) WithDB(db *gorm.DB) *BotRepository {
	return &BotRepository{db: db}
}

// Create inserts a bot together with its initial state row.
func (r *BotRepository) Create(ctx context.Context, bot *model.Bot) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "BotRepository",
		"op":      "Create",
		"user_id": bot.UserID,
		"name":    bot.Name,
	}).Debug("Creating bot")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bot).Error; err != nil {
			return err
		}

		state := &model.BotState{BotID: bot.ID, Status: model.BotStatusNew}
		return tx.Create(state).Error
	})
}

// FindByID fetches a bot by its primary ID.
// Returns (nil, nil) if not found.
func (r *BotRepository) FindByID(ctx context.Context, id uint) (*model.Bot, error) {
	var bot model.Bot

	err := r.db.WithContext(ctx).First(&bot, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "BotRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch bot")

		return nil, err
	}

	return &bot, nil
}

// ListByUser returns all bots belonging to a user.
func (r *BotRepository) ListByUser(ctx context.Context, userID uint) ([]model.Bot, error) {
	var bots []model.Bot

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&bots).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "BotRepository",
			"op":      "ListByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to list bots")

		return nil, err
	}

	return bots, nil
}

// CountActiveOnExchange returns how many bots are currently Active on the
// given exchange. The trade limiter divides the venue rate limit by this.
func (r *BotRepository) CountActiveOnExchange(ctx context.Context, exchangeID uint) (int, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.Bot{}).
		Joins("JOIN bot_states ON bot_states.bot_id = bots.id").
		Where("bots.exchange_id = ? AND bot_states.status = ?", exchangeID, model.BotStatusActive).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "BotRepository",
			"op":          "CountActiveOnExchange",
			"exchange_id": exchangeID,
		}).WithError(err).Error("Failed to count active bots")

		return 0, err
	}

	return int(count), nil
}
