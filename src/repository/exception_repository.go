package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// CountForBotSince returns the number of exceptions recorded for a bot at or
// after the given time. Feeds the breaker's errors-per-hour metric.
func (r *ExceptionRepository) CountForBotSince(ctx context.Context, botID uint, since time.Time) (int, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.Exception{}).
		Where("bot_id = ? AND created_at >= ?", botID, since).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ExceptionRepository",
			"op":     "CountForBotSince",
			"bot_id": botID,
		}).WithError(err).Error("Failed to count exceptions")

		return 0, err
	}

	return int(count), nil
}
