package trades

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetTrade retrieves a trade with its order attributions.
// Returns nil, nil if not found.
func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Preload("Orders").Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch trade: %w", err)
	}
	return &trade, nil
}

// GetUserTrades retrieves a user's trades ordered by entry time, optionally
// filtered by status.
func (d *Database) GetUserTrades(userID, status string) ([]types.Trade, error) {
	query := d.db.Preload("Orders").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var trades []types.Trade
	if err := query.Order("entry_at ASC, trade_id ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch trades for user: %w", err)
	}
	return trades, nil
}

// GetUserTradesBySymbol retrieves a user's trades for one account and symbol.
func (d *Database) GetUserTradesBySymbol(userID, accountID, symbol string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Preload("Orders").
		Where("user_id = ? AND account_id = ? AND symbol = ?", userID, accountID, symbol).
		Order("entry_at ASC, trade_id ASC").
		Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch trades for symbol: %w", err)
	}
	return trades, nil
}
