package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// CircuitBreakerRepository handles the append-only trip/reset history.
// Records are never edited; the current state of an entity is its latest row.
type CircuitBreakerRepository struct {
	db *gorm.DB
}

// NewCircuitBreakerRepository creates a new repository instance using the
// main read/write database.
func NewCircuitBreakerRepository() *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *CircuitBreakerRepository) WithDB(db *gorm.DB) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: db}
}

// Append inserts a new history record.
func (r *CircuitBreakerRepository) Append(ctx context.Context, record *model.CircuitBreakerRecord) error {
	logger.WithFields(map[string]interface{}{
		"repo":        "CircuitBreakerRepository",
		"op":          "Append",
		"entity_type": record.EntityType,
		"entity_id":   record.EntityID,
		"is_tripped":  record.IsTripped,
	}).Debug("Appending circuit breaker record")

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CircuitBreakerRepository",
			"op":   "Append",
		}).WithError(err).Error("Failed to append circuit breaker record")

		return err
	}

	return nil
}

// Latest returns the most recent record for an entity, which is its current
// breaker state. Returns (nil, nil) when the entity has no history yet.
func (r *CircuitBreakerRepository) Latest(ctx context.Context, entityType string, entityID uint) (*model.CircuitBreakerRecord, error) {
	var record model.CircuitBreakerRecord

	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "CircuitBreakerRepository",
			"op":          "Latest",
			"entity_type": entityType,
			"entity_id":   entityID,
		}).WithError(err).Error("Failed to fetch latest circuit breaker record")

		return nil, err
	}

	return &record, nil
}

// History returns the most recent records for an entity, newest first.
func (r *CircuitBreakerRepository) History(ctx context.Context, entityType string, entityID uint, limit int) ([]model.CircuitBreakerRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []model.CircuitBreakerRecord

	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "CircuitBreakerRepository",
			"op":          "History",
			"entity_type": entityType,
			"entity_id":   entityID,
		}).WithError(err).Error("Failed to fetch circuit breaker history")

		return nil, err
	}

	return records, nil
}
