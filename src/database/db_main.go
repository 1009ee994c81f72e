package database

import (
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"botfleet/src/model"
)

var MainDB *gorm.DB

// InitMainDB opens the main connection pool and migrates the schema.
// Call it once at startup before any repository is constructed.
func InitMainDB() error {
	config := GetConfig()

	db, err := gorm.Open(postgres.Open(config.DatabaseURLMain), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get main database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&model.User{},
		&model.Exchange{},
		&model.UserExchange{},
		&model.Bot{},
		&model.BotState{},
		&model.Fill{},
		&model.LedgerEvent{},
		&model.PendingOrder{},
		&model.CircuitBreakerRecord{},
		&model.ReinvestmentRun{},
		&model.Exception{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	MainDB = db
	logger.Info("main database initialized")

	return nil
}
