package repository

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// ErrPendingOrderExists is returned by Reserve when the idempotency key has
// already been claimed by another order.
var ErrPendingOrderExists = errors.New("pending order already exists for idempotency key")

// PendingOrderRepository handles the pending-orders store. The unique index
// on idempotency_key provides the atomic insert-if-absent the idempotency
// gate relies on.
type PendingOrderRepository struct {
	db *gorm.DB
}

// NewPendingOrderRepository creates a new repository instance using the main
// read/write database.
func NewPendingOrderRepository() *PendingOrderRepository {
	return &PendingOrderRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PendingOrderRepository) WithDB(db *gorm.DB) *PendingOrderRepository {
	return &PendingOrderRepository{db: db}
}

// Reserve attempts an exactly-once insert of a pending order for the key.
// When the key is already present the database rejects the insert and the
// caller gets ErrPendingOrderExists; exactly one concurrent writer wins.
func (r *PendingOrderRepository) Reserve(ctx context.Context, order *model.PendingOrder) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "PendingOrderRepository",
		"op":     "Reserve",
		"key":    order.IdempotencyKey,
		"bot_id": order.BotID,
	}).Debug("Reserving pending order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.WithFields(map[string]interface{}{
				"repo": "PendingOrderRepository",
				"op":   "Reserve",
				"key":  order.IdempotencyKey,
			}).Info("Idempotency key already reserved")

			return ErrPendingOrderExists
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PendingOrderRepository",
			"op":   "Reserve",
			"key":  order.IdempotencyKey,
		}).WithError(err).Error("Failed to reserve pending order")

		return err
	}

	return nil
}

// FindByKey fetches a pending order by its idempotency key.
// Returns (nil, nil) if not found.
func (r *PendingOrderRepository) FindByKey(ctx context.Context, key string) (*model.PendingOrder, error) {
	var order model.PendingOrder

	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "PendingOrderRepository",
			"op":   "FindByKey",
			"key":  key,
		}).WithError(err).Error("Failed to fetch pending order")

		return nil, err
	}

	return &order, nil
}

// Transition moves a pending order to the next status, enforcing the
// monotonic state machine (filled/cancelled/failed never regress). The
// update is guarded by the current status in the WHERE clause so a
// concurrent regressing write loses cleanly.
func (r *PendingOrderRepository) Transition(ctx context.Context, order *model.PendingOrder, next, reason string) error {
	if !order.CanTransitionTo(next) {
		return fmt.Errorf("illegal pending order transition %s -> %s for key %s",
			order.Status, next, order.IdempotencyKey)
	}

	res := r.db.WithContext(ctx).
		Model(&model.PendingOrder{}).
		Where("idempotency_key = ? AND status = ?", order.IdempotencyKey, order.Status).
		Updates(map[string]interface{}{"status": next, "reason": reason})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PendingOrderRepository",
			"op":   "Transition",
			"key":  order.IdempotencyKey,
			"next": next,
		}).WithError(res.Error).Error("Failed to transition pending order")

		return res.Error
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("pending order %s moved concurrently, transition to %s lost",
			order.IdempotencyKey, next)
	}

	order.Status = next
	order.Reason = reason

	logger.WithFields(map[string]interface{}{
		"repo":   "PendingOrderRepository",
		"op":     "Transition",
		"key":    order.IdempotencyKey,
		"status": next,
	}).Debug("Pending order transitioned")

	return nil
}
