package migrations

import (
	"gorm.io/gorm"
)

// AddMatchingIndexes creates the indexes the rebuild pipeline leans on:
// group scans over orders and per-user trade replacement.
func AddMatchingIndexes(db *gorm.DB) error {
	indexes := []string{
		// Group scan: all orders of one (user, account, symbol) in
		// execution order.
		`CREATE INDEX IF NOT EXISTS idx_orders_group
		 ON orders(user_id, account_id, symbol, executed_at)`,

		// Unconsumed-order lookups per user.
		`CREATE INDEX IF NOT EXISTS idx_orders_user_unconsumed
		 ON orders(user_id, used_in_trade)`,

		// Per-group trade replacement during incremental rebuilds.
		`CREATE INDEX IF NOT EXISTS idx_trades_group
		 ON trades(user_id, account_id, symbol)`,

		// Attribution lookups by trade.
		`CREATE INDEX IF NOT EXISTS idx_trade_orders_trade
		 ON trade_orders(trade_id)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
