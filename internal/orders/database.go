package orders

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrder retrieves an order by its ID.
// Returns nil, nil if not found.
func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetUnconsumedOrders retrieves every order of the user not yet assigned to a
// trade, in ingestion order. The sequencer imposes the matching order.
func (d *Database) GetUnconsumedOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ? AND used_in_trade = ?", userID, false).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch unconsumed orders: %w", err)
	}
	return orders, nil
}

// GetAllOrders retrieves every order of the user, in ingestion order.
func (d *Database) GetAllOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ?", userID).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	return orders, nil
}

// GetPendingUserIDs returns the ids of users that have orders not yet
// assigned to a trade.
func (d *Database) GetPendingUserIDs() ([]string, error) {
	var userIDs []string
	if err := d.db.Model(&types.Order{}).
		Where("used_in_trade = ?", false).
		Distinct().
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending users: %w", err)
	}
	return userIDs, nil
}

// CreateOrderWithIdempotency creates a new order and its idempotency record
// in a transaction.
func (d *Database) CreateOrderWithIdempotency(order *types.Order, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		OrderID:        order.OrderID,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key.
// Returns nil, nil if no record exists.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
