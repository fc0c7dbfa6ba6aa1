package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order side values as reported by the broker.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade direction is the direction of the opening leg.
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade status values.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Holding period classes, derived from entry/exit calendar dates.
const (
	HoldingIntraday = "INTRADAY"
	HoldingMultiday = "MULTIDAY"
)

// Asset classes.
const (
	AssetEquity = "equity"
	AssetOption = "option"
	AssetOther  = "other"
)

// Order is a single brokerage execution (fill). Orders are immutable once
// recorded except for UsedInTrade/TradeID, which only the rebuild controller
// writes, inside the same transaction as the trade they belong to.
//
// The gorm row ID doubles as the ingestion sequence number: it is the
// tie-break key when two fills share an execution timestamp.
type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string          `gorm:"uniqueIndex" json:"order_id"`
	UserID      string          `gorm:"index" json:"user_id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	AssetClass  string          `json:"asset_class"` // equity, option, other
	Side        string          `json:"side"`        // BUY or SELL
	Quantity    decimal.Decimal `gorm:"type:numeric(20,8)" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(20,8)" json:"price"`
	Commission  decimal.Decimal `gorm:"type:numeric(20,8)" json:"commission"`
	Fees        decimal.Decimal `gorm:"type:numeric(20,8)" json:"fees"`
	ExecutedAt  *time.Time      `json:"executed_at"`
	UsedInTrade bool            `gorm:"index" json:"used_in_trade"`
	TradeID     *string         `json:"trade_id,omitempty"`
}

// Sequence returns the ingestion sequence number used as the secondary sort
// key within a (account, symbol) group.
func (o *Order) Sequence() uint {
	return o.ID
}

// Trade is a reconstructed round-trip position. Trades are derived data: the
// rebuild controller creates and destroys them wholesale, they are never
// patched field-by-field.
type Trade struct {
	gorm.Model         `json:"-"`
	TradeID            string           `gorm:"uniqueIndex" json:"trade_id"`
	UserID             string           `gorm:"index" json:"user_id"`
	AccountID          string           `json:"account_id"`
	Symbol             string           `json:"symbol"`
	Direction          string           `json:"direction"` // LONG or SHORT
	Status             string           `gorm:"index" json:"status"`
	OpenQuantity       decimal.Decimal  `gorm:"type:numeric(20,8)" json:"open_quantity"`
	CloseQuantity      decimal.Decimal  `gorm:"type:numeric(20,8)" json:"close_quantity"`
	AvgEntryPrice      decimal.Decimal  `gorm:"type:numeric(20,8)" json:"avg_entry_price"`
	AvgExitPrice       *decimal.Decimal `gorm:"type:numeric(20,8)" json:"avg_exit_price,omitempty"`
	RealizedPnl        decimal.Decimal  `gorm:"column:realized_pnl;type:numeric(20,8)" json:"realized_pnl"`
	CommissionsTotal   decimal.Decimal  `gorm:"type:numeric(20,8)" json:"commissions_total"`
	FeesTotal          decimal.Decimal  `gorm:"type:numeric(20,8)" json:"fees_total"`
	ExecutionsCount    int              `json:"executions_count"`
	EntryAt            time.Time        `json:"entry_at"`
	ExitAt             *time.Time       `json:"exit_at,omitempty"`
	HoldingPeriodClass string           `json:"holding_period_class,omitempty"`

	// Attribution rows, ordered by entry into the trade. Populated on
	// construction and on reads that preload them.
	Orders []TradeOrder `gorm:"foreignKey:TradeID;references:TradeID" json:"orders,omitempty"`
}

// TradeOrder attributes a quantity of one order to one trade. A flip order
// appears in two trades with disjoint quantities summing to the order's
// full quantity; every other order appears in exactly one trade.
type TradeOrder struct {
	gorm.Model `json:"-"`
	TradeID    string          `gorm:"index:idx_trade_orders_pair,unique" json:"trade_id"`
	OrderID    string          `gorm:"index:idx_trade_orders_pair,unique" json:"order_id"`
	Quantity   decimal.Decimal `gorm:"type:numeric(20,8)" json:"quantity"`
}

// IsClosed reports whether the trade's position has been fully closed out.
func (t *Trade) IsClosed() bool {
	return t.Status == StatusClosed
}
