package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/database/migrations"
	"github.com/tradevault/journal-api/internal/orders"
	"github.com/tradevault/journal-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Order{},
		&types.Trade{},
		&types.TradeOrder{},
		&orders.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	if err := migrations.AddMatchingIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
