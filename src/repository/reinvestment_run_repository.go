package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// ErrRunExists is returned by Claim when the cadence window has already been
// claimed by a previous (or concurrent) allocator run.
var ErrRunExists = errors.New("reinvestment run already recorded for window")

// ReinvestmentRunRepository handles allocator run records. The unique index
// on (user_id, window_key) is what makes allocator scheduling idempotent.
type ReinvestmentRunRepository struct {
	db *gorm.DB
}

// NewReinvestmentRunRepository creates a new repository instance using the
// main read/write database.
func NewReinvestmentRunRepository() *ReinvestmentRunRepository {
	return &ReinvestmentRunRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ReinvestmentRunRepository) WithDB(db *gorm.DB) *ReinvestmentRunRepository {
	return &ReinvestmentRunRepository{db: db}
}

// Claim inserts the run record for a cadence window, winning or losing the
// window atomically on the unique index.
func (r *ReinvestmentRunRepository) Claim(ctx context.Context, run *model.ReinvestmentRun) error {
	logger.WithFields(map[string]interface{}{
		"repo":       "ReinvestmentRunRepository",
		"op":         "Claim",
		"user_id":    run.UserID,
		"window_key": run.WindowKey,
	}).Debug("Claiming reinvestment window")

	err := r.db.WithContext(ctx).Create(run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrRunExists
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "ReinvestmentRunRepository",
			"op":         "Claim",
			"window_key": run.WindowKey,
		}).WithError(err).Error("Failed to claim reinvestment window")

		return err
	}

	return nil
}

// Update persists the final figures of a claimed run.
func (r *ReinvestmentRunRepository) Update(ctx context.Context, run *model.ReinvestmentRun) error {
	err := r.db.WithContext(ctx).Save(run).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "ReinvestmentRunRepository",
			"op":         "Update",
			"window_key": run.WindowKey,
		}).WithError(err).Error("Failed to update reinvestment run")

		return err
	}

	return nil
}

// Latest returns the most recent completed or no-op run for a user.
// Returns (nil, nil) when the user has no runs yet.
func (r *ReinvestmentRunRepository) Latest(ctx context.Context, userID uint) (*model.ReinvestmentRun, error) {
	var run model.ReinvestmentRun

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&run).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "ReinvestmentRunRepository",
			"op":      "Latest",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch latest reinvestment run")

		return nil, err
	}

	return &run, nil
}
