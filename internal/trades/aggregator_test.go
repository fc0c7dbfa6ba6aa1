package trades

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradevault/journal-api/internal/matcher"
	"github.com/tradevault/journal-api/internal/types"
)

var baseTime = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

type testFill struct {
	orderID    string
	side       string
	qty        string
	price      string
	commission string
	fees       string
	at         time.Time
}

func (f testFill) order() types.Order {
	at := f.at
	return types.Order{
		OrderID:    f.orderID,
		UserID:     "user-1",
		AccountID:  "acc-1",
		Symbol:     "AAPL",
		Side:       f.side,
		Quantity:   decimal.RequireFromString(f.qty),
		Price:      decimal.RequireFromString(f.price),
		Commission: decimal.RequireFromString(f.commission),
		Fees:       decimal.RequireFromString(f.fees),
		ExecutedAt: &at,
	}
}

// buildTrades drives the matcher and aggregator end to end over an ordered
// fill stream, the way a rebuild runs one group.
func buildTrades(t *testing.T, loc *time.Location, fills ...testFill) []types.Trade {
	t.Helper()
	m := matcher.New()
	agg := NewAggregator(loc)
	for _, f := range fills {
		events, err := m.Process(f.order())
		require.NoError(t, err)
		for _, ev := range events {
			require.NoError(t, agg.Apply(ev))
		}
	}
	return agg.Finish()
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func TestSimpleRoundTrip(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "1", "0.5", baseTime},
		testFill{"o2", types.SideSell, "100", "12", "1", "0.5", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, types.DirectionLong, trade.Direction)
	assert.Equal(t, types.StatusClosed, trade.Status)
	assertDecimal(t, "100", trade.OpenQuantity, "open quantity")
	assertDecimal(t, "100", trade.CloseQuantity, "close quantity")
	assertDecimal(t, "10", trade.AvgEntryPrice, "avg entry")
	require.NotNil(t, trade.AvgExitPrice)
	assertDecimal(t, "12", *trade.AvgExitPrice, "avg exit")
	// 100 * (12 - 10) gross, minus 3 in total costs.
	assertDecimal(t, "197", trade.RealizedPnl, "realized pnl")
	assertDecimal(t, "2", trade.CommissionsTotal, "commissions")
	assertDecimal(t, "1", trade.FeesTotal, "fees")
	assert.Equal(t, 2, trade.ExecutionsCount)
	assert.Equal(t, baseTime, trade.EntryAt)
	require.NotNil(t, trade.ExitAt)
	assert.Equal(t, baseTime.Add(time.Hour), *trade.ExitAt)
	assert.Equal(t, types.HoldingIntraday, trade.HoldingPeriodClass)
}

func TestPartialCloseStaysOpen(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "1", "0", baseTime},
		testFill{"o2", types.SideSell, "40", "12", "1", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, types.StatusOpen, trade.Status)
	assertDecimal(t, "100", trade.OpenQuantity, "open quantity")
	assertDecimal(t, "40", trade.CloseQuantity, "close quantity")
	assert.Nil(t, trade.AvgExitPrice)
	assert.Nil(t, trade.ExitAt)
	assert.Empty(t, trade.HoldingPeriodClass)
	// 40 * (12 - 10) gross, minus the close's commission and the closed
	// slice's share of entry costs (1 * 40/100).
	assertDecimal(t, "78.6", trade.RealizedPnl, "realized pnl")
}

func TestWeightedAverageEntryAcrossScaleIns(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "0", "0", baseTime},
		testFill{"o2", types.SideBuy, "50", "13", "0", "0", baseTime.Add(time.Minute)},
		testFill{"o3", types.SideSell, "150", "12", "0", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	// (100*10 + 50*13) / 150 = 11
	assertDecimal(t, "11", trade.AvgEntryPrice, "avg entry")
	assertDecimal(t, "150", trade.RealizedPnl, "realized pnl")
	assert.Equal(t, 3, trade.ExecutionsCount)
}

func TestScaleInAfterPartialCloseChargesEntryCostsOnce(t *testing.T) {
	// Re-entering after a partial close must not re-charge the entry costs
	// the earlier close already consumed: all fills at the same price, so
	// the realized loss of the flat trade is exactly the total costs.
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "10", "0", baseTime},
		testFill{"o2", types.SideSell, "50", "10", "0", "0", baseTime.Add(time.Minute)},
		testFill{"o3", types.SideBuy, "100", "10", "2", "0", baseTime.Add(2 * time.Minute)},
		testFill{"o4", types.SideSell, "150", "10", "0", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, types.StatusClosed, trade.Status)
	assertDecimal(t, "12", trade.CommissionsTotal, "commissions")
	assertDecimal(t, "-12", trade.RealizedPnl, "realized pnl of the flat round trip")
}

func TestClosedTradePnlReconcilesToGrossMinusCosts(t *testing.T) {
	// entry, partial exit, entry, full exit with costs on every fill.
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "1", "0.5", baseTime},
		testFill{"o2", types.SideSell, "40", "12", "1", "0.5", baseTime.Add(time.Minute)},
		testFill{"o3", types.SideBuy, "60", "11", "1", "0.5", baseTime.Add(2 * time.Minute)},
		testFill{"o4", types.SideSell, "120", "13", "1", "0.5", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]
	require.Equal(t, types.StatusClosed, trade.Status)

	// gross = sum(exit qty*price) - sum(entry qty*price); once the trade is
	// flat, realized pnl must equal gross minus the verbatim cost totals.
	gross := decimal.RequireFromString("40").Mul(decimal.RequireFromString("12")).
		Add(decimal.RequireFromString("120").Mul(decimal.RequireFromString("13"))).
		Sub(decimal.RequireFromString("100").Mul(decimal.RequireFromString("10"))).
		Sub(decimal.RequireFromString("60").Mul(decimal.RequireFromString("11")))
	want := gross.Sub(trade.CommissionsTotal).Sub(trade.FeesTotal)

	assert.True(t, want.Equal(trade.RealizedPnl), "want %s, got %s", want, trade.RealizedPnl)
	assertDecimal(t, "4", trade.CommissionsTotal, "commissions")
	assertDecimal(t, "2", trade.FeesTotal, "fees")
}

func TestShortRoundTripSignsProfit(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideSell, "100", "20", "0", "0", baseTime},
		testFill{"o2", types.SideBuy, "100", "18", "0", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, types.DirectionShort, trade.Direction)
	assertDecimal(t, "200", trade.RealizedPnl, "short profit when price falls")
}

func TestFlipSplitsOrderAcrossTwoTrades(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "50", "10", "0", "0", baseTime},
		testFill{"o2", types.SideSell, "80", "11", "0", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 2)
	closed, opened := trades[0], trades[1]

	assert.Equal(t, types.StatusClosed, closed.Status)
	assert.Equal(t, types.DirectionLong, closed.Direction)
	assertDecimal(t, "50", closed.OpenQuantity, "closed trade open quantity")
	assertDecimal(t, "50", closed.CloseQuantity, "closed trade close quantity")
	assertDecimal(t, "50", closed.RealizedPnl, "closed trade pnl")

	assert.Equal(t, types.StatusOpen, opened.Status)
	assert.Equal(t, types.DirectionShort, opened.Direction)
	assertDecimal(t, "30", opened.OpenQuantity, "reversed trade open quantity")
	assertDecimal(t, "11", opened.AvgEntryPrice, "reversed trade entry price")
	assertDecimal(t, "0", opened.RealizedPnl, "reversed trade pnl")
	assert.Equal(t, baseTime.Add(time.Hour), opened.EntryAt)

	// The flip order lands in both trades with disjoint quantity slices.
	require.Len(t, closed.Orders, 2)
	require.Len(t, opened.Orders, 1)
	assert.Equal(t, "o2", closed.Orders[1].OrderID)
	assertDecimal(t, "50", closed.Orders[1].Quantity, "closing slice of the flip order")
	assert.Equal(t, "o2", opened.Orders[0].OrderID)
	assertDecimal(t, "30", opened.Orders[0].Quantity, "opening slice of the flip order")
}

func TestFlipSplitsOrderCostsProRata(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "50", "10", "0", "0", baseTime},
		testFill{"o2", types.SideSell, "80", "11", "8", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 2)
	closed, opened := trades[0], trades[1]

	// 8 commission split 50/80 to the closing leg, 30/80 to the opening leg.
	assertDecimal(t, "5", closed.CommissionsTotal, "closing leg commission share")
	assertDecimal(t, "45", closed.RealizedPnl, "closed pnl after commission share")
	assertDecimal(t, "3", opened.CommissionsTotal, "opening leg commission share")
}

func TestOrderContributesToAttributionOnce(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "0", "0", baseTime},
		testFill{"o2", types.SideSell, "40", "11", "0", "0", baseTime.Add(time.Minute)},
		testFill{"o3", types.SideSell, "60", "12", "0", "0", baseTime.Add(time.Hour)},
	)

	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, 3, trade.ExecutionsCount)
	require.Len(t, trade.Orders, 3)
	seen := make(map[string]struct{})
	for _, to := range trade.Orders {
		_, dup := seen[to.OrderID]
		assert.False(t, dup, "order %s attributed twice", to.OrderID)
		seen[to.OrderID] = struct{}{}
		assert.Equal(t, trade.TradeID, to.TradeID)
	}
}

func TestHoldingPeriodClassUsesMarketCalendar(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:30 UTC on Mar 4 is 18:30 in New York; 01:30 UTC on Mar 5 is still
	// Mar 4 in New York, so the trade is intraday by the market calendar
	// despite crossing a UTC date boundary.
	entry := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)
	exit := time.Date(2024, 3, 5, 1, 30, 0, 0, time.UTC)

	trades := buildTrades(t, ny,
		testFill{"o1", types.SideBuy, "10", "10", "0", "0", entry},
		testFill{"o2", types.SideSell, "10", "11", "0", "0", exit},
	)
	require.Len(t, trades, 1)
	assert.Equal(t, types.HoldingIntraday, trades[0].HoldingPeriodClass)

	trades = buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "10", "10", "0", "0", entry},
		testFill{"o2", types.SideSell, "10", "11", "0", "0", exit},
	)
	require.Len(t, trades, 1)
	assert.Equal(t, types.HoldingMultiday, trades[0].HoldingPeriodClass)
}

func TestFinishFlushesOpenTrade(t *testing.T) {
	trades := buildTrades(t, time.UTC,
		testFill{"o1", types.SideBuy, "100", "10", "0", "0", baseTime},
	)

	require.Len(t, trades, 1)
	assert.Equal(t, types.StatusOpen, trades[0].Status)
	assertDecimal(t, "0", trades[0].CloseQuantity, "nothing closed yet")
	assertDecimal(t, "0", trades[0].RealizedPnl, "no realized pnl yet")
}
