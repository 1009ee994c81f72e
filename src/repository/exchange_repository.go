package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"botfleet/src/database"
	"botfleet/src/model"
)

// GormExchangeRepository implements exchange persistence using GORM.
type GormExchangeRepository struct {
	db *gorm.DB
}

// NewExchangeRepository creates a new Exchange repository using the main
// read/write database.
func NewExchangeRepository() *GormExchangeRepository {
	return &GormExchangeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (s *GormExchangeRepository) WithDB(db *gorm.DB) *GormExchangeRepository {
	return &GormExchangeRepository{db: db}
}

// CreateExchange inserts a new exchange into the database.
func (s *GormExchangeRepository) CreateExchange(ctx context.Context, exchange *model.Exchange) error {
	logger.WithFields(map[string]interface{}{
		"repo": "ExchangeRepository",
		"op":   "CreateExchange",
		"name": exchange.Name,
	}).Debug("Creating new exchange")

	err := s.db.WithContext(ctx).Create(exchange).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "CreateExchange",
			"name": exchange.Name,
		}).WithError(err).Error("Failed to create exchange")

		return err
	}

	return nil
}

// FindByID fetches an exchange by its primary ID.
// Returns (nil, nil) if not found.
func (s *GormExchangeRepository) FindByID(ctx context.Context, id uint) (*model.Exchange, error) {
	var exchange model.Exchange

	err := s.db.WithContext(ctx).First(&exchange, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch exchange by ID")

		return nil, err
	}

	return &exchange, nil
}

// ListAll returns every configured exchange.
func (s *GormExchangeRepository) ListAll(ctx context.Context) ([]model.Exchange, error) {
	var exchanges []model.Exchange

	err := s.db.WithContext(ctx).
		Order("id").
		Find(&exchanges).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "ListAll",
		}).WithError(err).Error("Failed to list exchanges")

		return nil, err
	}

	return exchanges, nil
}

// FindByName fetches an exchange by its name.
// Returns (nil, nil) if not found.
func (s *GormExchangeRepository) FindByName(ctx context.Context, name string) (*model.Exchange, error) {
	var exchange model.Exchange

	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&exchange).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch exchange by name")

		return nil, err
	}

	return &exchange, nil
}
