package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

type GormUserExchangeRepository struct {
	db *gorm.DB
}

func NewUserExchangeRepository() *GormUserExchangeRepository {
	return &GormUserExchangeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *GormUserExchangeRepository) WithDB(db *gorm.DB) *GormUserExchangeRepository {
	return &GormUserExchangeRepository{db: db}
}

// Create inserts a new UserExchange record.
func (r *GormUserExchangeRepository) Create(ctx context.Context, ue *model.UserExchange) error {
	return r.db.WithContext(ctx).Create(ue).Error
}

// GetByUserAndExchange returns a UserExchange for the given userID and exchangeID.
// Returns (nil, nil) if not found.
func (r *GormUserExchangeRepository) GetByUserAndExchange(
	ctx context.Context,
	userID uint,
	exchangeID uint,
) (*model.UserExchange, error) {

	var ue model.UserExchange
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange_id = ?", userID, exchangeID).
		First(&ue).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &ue, nil
}

// Update persists changes to an existing UserExchange record.
func (r *GormUserExchangeRepository) Update(ctx context.Context, ue *model.UserExchange) error {
	return r.db.WithContext(ctx).Save(ue).Error
}
