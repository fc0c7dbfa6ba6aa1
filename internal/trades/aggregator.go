package trades

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-api/internal/matcher"
	"github.com/tradevault/journal-api/internal/types"
)

// Aggregator folds one group's matching event stream into trade records.
// It holds at most one trade under construction at a time, since a group has
// at most one open position.
//
// Like the matcher, an Aggregator is single-threaded per group.
type Aggregator struct {
	loc       *time.Location
	current   *builder
	completed []types.Trade
}

// NewAggregator creates an aggregator. The location supplies the calendar
// used to split intraday from multiday holds.
func NewAggregator(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{loc: loc}
}

// builder accumulates one trade from running totals. Weighted averages are
// always derived from the sums, never by re-averaging already-averaged
// values, so rounding error stays bounded across many small fills.
type builder struct {
	trade types.Trade

	entryQty  decimal.Decimal // sum of opening-side quantities
	entryCost decimal.Decimal // sum of qty*price over all opening fills
	closedQty decimal.Decimal
	exitCost  decimal.Decimal // sum of qty*price over closing fills

	// Cost of the still-open quantity. Closes consume it at the moving
	// average basis, so once the trade is flat the consumed cost equals the
	// entry proceeds exactly and realized P&L reconciles to gross minus the
	// cost totals. entryCost stays cumulative for the reported average
	// entry price.
	openCost decimal.Decimal

	realized decimal.Decimal

	// Opening-side costs not yet charged against a closed slice. Each close
	// consumes a share proportional to the open quantity it closes, so the
	// charges sum exactly to the entry costs once the trade is flat.
	remainingEntryCosts decimal.Decimal

	orders []types.TradeOrder
	seen   map[string]struct{}
}

// Apply consumes one matching event.
func (a *Aggregator) Apply(ev matcher.Event) error {
	switch ev.Type {
	case matcher.EventOpen:
		if a.current != nil {
			return fmt.Errorf("open event for order %s while a trade is under construction", ev.Order.OrderID)
		}
		a.current = a.newBuilder(ev.Direction, ev.At)
		a.current.addEntry(ev.Order, ev.Quantity, ev.Price)
		return nil

	case matcher.EventScaleIn:
		if a.current == nil {
			return fmt.Errorf("scale-in event for order %s with no trade under construction", ev.Order.OrderID)
		}
		a.current.addEntry(ev.Order, ev.Quantity, ev.Price)
		return nil

	case matcher.EventScaleOut:
		if a.current == nil {
			return fmt.Errorf("scale-out event for order %s with no trade under construction", ev.Order.OrderID)
		}
		a.current.addExit(ev.Order, ev.Quantity, ev.Price)
		return nil

	case matcher.EventClose:
		if a.current == nil {
			return fmt.Errorf("close event for order %s with no trade under construction", ev.Order.OrderID)
		}
		a.current.addExit(ev.Order, ev.Quantity, ev.Price)
		a.finalize(ev.At)
		return nil

	case matcher.EventFlip:
		if a.current == nil {
			return fmt.Errorf("flip event for order %s with no trade under construction", ev.Order.OrderID)
		}
		// Closing leg of the flip order, then a reversed position opened
		// from the remainder. The order is attributed to both trades with
		// disjoint quantities.
		a.current.addExit(ev.Order, ev.Quantity, ev.Price)
		a.finalize(ev.At)

		a.current = a.newBuilder(reversedDirection(ev.Direction), ev.At)
		a.current.addEntry(ev.Order, ev.Opened, ev.Price)
		return nil

	default:
		return fmt.Errorf("unknown matching event type %q", ev.Type)
	}
}

// Finish flushes the trade still under construction, if any, as an OPEN
// trade and returns every trade the event stream produced, in order of entry.
func (a *Aggregator) Finish() []types.Trade {
	if a.current != nil {
		a.completed = append(a.completed, a.current.snapshot(nil, nil))
		a.current = nil
	}
	out := a.completed
	a.completed = nil
	return out
}

func (a *Aggregator) newBuilder(direction string, entryAt time.Time) *builder {
	return &builder{
		trade: types.Trade{
			TradeID:   "TRD_" + uuid.New().String(),
			Direction: direction,
			Status:    types.StatusOpen,
			EntryAt:   entryAt,
		},
		seen: make(map[string]struct{}),
	}
}

// finalize closes the trade under construction at the given exit time.
func (a *Aggregator) finalize(exitAt time.Time) {
	b := a.current
	avgExit := b.exitCost.Div(b.closedQty)
	t := b.snapshot(&exitAt, &avgExit)
	t.HoldingPeriodClass = holdingPeriodClass(t.EntryAt, exitAt, a.loc)
	a.completed = append(a.completed, t)
	a.current = nil
}

// holdingPeriodClass splits intraday from multiday holds by calendar date in
// the configured market timezone.
func holdingPeriodClass(entryAt, exitAt time.Time, loc *time.Location) string {
	ey, em, ed := entryAt.In(loc).Date()
	xy, xm, xd := exitAt.In(loc).Date()
	if ey == xy && em == xm && ed == xd {
		return types.HoldingIntraday
	}
	return types.HoldingMultiday
}

// addEntry records an opening-side fill. quantity may be a partial slice of
// the order when the order triggered a flip.
func (b *builder) addEntry(order types.Order, quantity, price decimal.Decimal) {
	b.entryQty = b.entryQty.Add(quantity)
	b.entryCost = b.entryCost.Add(quantity.Mul(price))
	b.openCost = b.openCost.Add(quantity.Mul(price))

	commission, fees := orderCostShare(order, quantity)
	b.remainingEntryCosts = b.remainingEntryCosts.Add(commission).Add(fees)
	b.trade.CommissionsTotal = b.trade.CommissionsTotal.Add(commission)
	b.trade.FeesTotal = b.trade.FeesTotal.Add(fees)

	b.attribute(order, quantity)
	if b.trade.UserID == "" {
		b.trade.UserID = order.UserID
		b.trade.AccountID = order.AccountID
		b.trade.Symbol = order.Symbol
	}
}

// addExit records a closing-side fill and accrues the realized P&L of the
// newly closed slice: exit proceeds against the slice's share of the open
// cost, minus its share of entry and exit costs. Both the cost basis and the
// entry costs are consumed proportionally to the open quantity this fill
// closes, so a scale-in after a partial close never re-charges what an
// earlier close already consumed.
func (b *builder) addExit(order types.Order, quantity, price decimal.Decimal) {
	openBefore := b.entryQty.Sub(b.closedQty)

	costShare := b.openCost.Mul(quantity).Div(openBefore)
	b.openCost = b.openCost.Sub(costShare)

	gross := price.Mul(quantity).Sub(costShare)
	if b.trade.Direction == types.DirectionShort {
		gross = gross.Neg()
	}

	commission, fees := orderCostShare(order, quantity)
	entryCosts := b.remainingEntryCosts.Mul(quantity).Div(openBefore)
	b.remainingEntryCosts = b.remainingEntryCosts.Sub(entryCosts)

	b.realized = b.realized.Add(gross).Sub(commission).Sub(fees).Sub(entryCosts)

	b.closedQty = b.closedQty.Add(quantity)
	b.exitCost = b.exitCost.Add(quantity.Mul(price))
	b.trade.CommissionsTotal = b.trade.CommissionsTotal.Add(commission)
	b.trade.FeesTotal = b.trade.FeesTotal.Add(fees)

	b.attribute(order, quantity)
}

// attribute appends the order's quantity share to the trade's attribution
// list. An order contributes to a given trade at most once.
func (b *builder) attribute(order types.Order, quantity decimal.Decimal) {
	if _, ok := b.seen[order.OrderID]; ok {
		return
	}
	b.seen[order.OrderID] = struct{}{}
	b.orders = append(b.orders, types.TradeOrder{
		TradeID:  b.trade.TradeID,
		OrderID:  order.OrderID,
		Quantity: quantity,
	})
	b.trade.ExecutionsCount++
}

// snapshot produces the trade record in its current state. A nil exit time
// leaves the trade OPEN with a null average exit.
func (b *builder) snapshot(exitAt *time.Time, avgExit *decimal.Decimal) types.Trade {
	t := b.trade
	t.OpenQuantity = b.entryQty
	t.CloseQuantity = b.closedQty
	t.AvgEntryPrice = b.entryCost.Div(b.entryQty)
	t.RealizedPnl = b.realized
	t.Orders = b.orders

	if exitAt != nil {
		t.Status = types.StatusClosed
		t.ExitAt = exitAt
		t.AvgExitPrice = avgExit
	}
	return t
}

// orderCostShare returns the slice of the order's commission and fees
// attributable to the given quantity. Orders fully consumed by one trade
// contribute their costs verbatim; a flip order's costs are split pro-rata
// between the two trades it lands in.
func orderCostShare(order types.Order, quantity decimal.Decimal) (commission, fees decimal.Decimal) {
	if quantity.Equal(order.Quantity) {
		return order.Commission, order.Fees
	}
	share := quantity.Div(order.Quantity)
	return order.Commission.Mul(share), order.Fees.Mul(share)
}

func reversedDirection(direction string) string {
	if direction == types.DirectionLong {
		return types.DirectionShort
	}
	return types.DirectionLong
}
