package rebuild

import (
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

// CommittedGroup is one group's freshly constructed trade set, ready to
// replace whatever the group held before.
type CommittedGroup struct {
	AccountID string
	Symbol    string
	Trades    []types.Trade
}

// GetUnconsumedOrders retrieves the user's orders not yet assigned to a
// trade, in ingestion order.
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

// GetPendingUserIDs returns ids of users that have unconsumed orders.
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

// CommitRebuild persists one user's rebuild batch in a single transaction:
// old trades and order tags cleared, new trades and attributions written,
// orders tagged. Either everything lands or nothing does, so a partial
// failure can never leave an order tagged without its trade. Groups that
// failed to match are absent from the batch and stay untouched.
func (d *Database) CommitRebuild(userID string, full bool, groups []CommittedGroup) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if full {
			if err := clearUser(tx, userID); err != nil {
				return err
			}
		} else {
			for _, group := range groups {
				if err := clearGroup(tx, userID, group.AccountID, group.Symbol); err != nil {
					return err
				}
			}
		}

		// First-attribution rule: a flip order appears in two trades, its
		// back-reference points at the trade that consumed it first.
		tagged := make(map[string]struct{})

		for _, group := range groups {
			for i := range group.Trades {
				trade := group.Trades[i]
				attributions := trade.Orders
				trade.Orders = nil

				if err := tx.Create(&trade).Error; err != nil {
					return fmt.Errorf("failed to create trade %s: %w", trade.TradeID, err)
				}

				for _, attribution := range attributions {
					if err := tx.Create(&attribution).Error; err != nil {
						return fmt.Errorf("failed to create attribution %s/%s: %w", attribution.TradeID, attribution.OrderID, err)
					}

					if _, done := tagged[attribution.OrderID]; done {
						continue
					}
					tagged[attribution.OrderID] = struct{}{}

					if err := tx.Model(&types.Order{}).
						Where("order_id = ?", attribution.OrderID).
						Updates(map[string]interface{}{
							"used_in_trade": true,
							"trade_id":      trade.TradeID,
						}).Error; err != nil {
						return fmt.Errorf("failed to tag order %s: %w", attribution.OrderID, err)
					}
				}
			}
		}

		return nil
	})
}

// clearUser removes all of the user's trades, attributions and order tags.
func clearUser(tx *gorm.DB, userID string) error {
	if err := tx.Where("trade_id IN (?)",
		tx.Model(&types.Trade{}).Select("trade_id").Where("user_id = ?", userID),
	).Unscoped().Delete(&types.TradeOrder{}).Error; err != nil {
		return fmt.Errorf("failed to clear attributions: %w", err)
	}

	if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&types.Trade{}).Error; err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}

	if err := tx.Model(&types.Order{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"used_in_trade": false, "trade_id": nil}).Error; err != nil {
		return fmt.Errorf("failed to clear order tags: %w", err)
	}
	return nil
}

// clearGroup removes one (account, symbol) group's trades, attributions and
// order tags for the user.
func clearGroup(tx *gorm.DB, userID, accountID, symbol string) error {
	if err := tx.Where("trade_id IN (?)",
		tx.Model(&types.Trade{}).Select("trade_id").
			Where("user_id = ? AND account_id = ? AND symbol = ?", userID, accountID, symbol),
	).Unscoped().Delete(&types.TradeOrder{}).Error; err != nil {
		return fmt.Errorf("failed to clear group attributions: %w", err)
	}

	if err := tx.Unscoped().
		Where("user_id = ? AND account_id = ? AND symbol = ?", userID, accountID, symbol).
		Delete(&types.Trade{}).Error; err != nil {
		return fmt.Errorf("failed to clear group trades: %w", err)
	}

	if err := tx.Model(&types.Order{}).
		Where("user_id = ? AND account_id = ? AND symbol = ?", userID, accountID, symbol).
		Updates(map[string]interface{}{"used_in_trade": false, "trade_id": nil}).Error; err != nil {
		return fmt.Errorf("failed to clear group order tags: %w", err)
	}
	return nil
}
