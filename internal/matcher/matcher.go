package matcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-api/internal/types"
)

// EventType classifies what an execution did to the open position.
type EventType string

const (
	// EventOpen starts a new position from flat.
	EventOpen EventType = "OPEN"
	// EventScaleIn adds to the open position in the same direction.
	EventScaleIn EventType = "SCALE_IN"
	// EventScaleOut closes part of the open position.
	EventScaleOut EventType = "SCALE_OUT"
	// EventClose closes the open position exactly.
	EventClose EventType = "CLOSE"
	// EventFlip closes the open position and opens a reversed one from the
	// remainder of the same execution. Modeled as its own event type so the
	// sign-reversal path is explicit rather than an emergent side effect of
	// reusing close and open handling.
	EventFlip EventType = "FLIP"
)

// Event is one matching event emitted while consuming the ordered execution
// stream of a single (account, symbol) group.
type Event struct {
	Type  EventType
	Order types.Order

	// Direction of the position the event applies to. For a flip this is the
	// direction being closed; the reversed position opens opposite to it.
	Direction string

	// Quantity applied to the current position: the opened amount for
	// OPEN/SCALE_IN, the closed amount for SCALE_OUT/CLOSE/FLIP.
	Quantity decimal.Decimal

	// Opened is set only on FLIP: the quantity opening the reversed
	// position. Quantity + Opened equals the source order's quantity.
	Opened decimal.Decimal

	Price decimal.Decimal
	At    time.Time
}

var (
	// ErrContractViolation indicates the sequencer's contract was broken,
	// e.g. a non-positive quantity reached the matcher. Fatal for the group.
	ErrContractViolation = errors.New("matcher input violates sequencer contract")

	// ErrReconciliationRequired indicates the execution stream cannot be
	// interpreted as a valid position history. Guessing would corrupt P&L,
	// so the group fails without producing a trade.
	ErrReconciliationRequired = errors.New("position state requires manual reconciliation")
)

// Matcher is the per-(account, symbol) position state machine. It is flat
// initially and reflects current open exposure after consuming all available
// executions; a position may stay open indefinitely across runs.
//
// A Matcher is not safe for concurrent use; each group runs its own instance
// sequentially.
type Matcher struct {
	direction string          // types.DirectionLong/Short, empty while flat
	exposure  decimal.Decimal // open quantity remaining
}

// New returns a matcher in the flat state.
func New() *Matcher {
	return &Matcher{}
}

// Flat reports whether there is no open position.
func (m *Matcher) Flat() bool {
	return m.direction == ""
}

// Direction returns the direction of the open position, or empty when flat.
func (m *Matcher) Direction() string {
	return m.direction
}

// Exposure returns the currently open quantity.
func (m *Matcher) Exposure() decimal.Decimal {
	return m.exposure
}

// Process consumes one execution and returns the matching events it caused.
// Executions must arrive in the sequencer's total order.
func (m *Matcher) Process(order types.Order) ([]Event, error) {
	if !order.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: order %s has quantity %s", ErrContractViolation, order.OrderID, order.Quantity)
	}
	if order.ExecutedAt == nil {
		return nil, fmt.Errorf("%w: order %s has no execution timestamp", ErrContractViolation, order.OrderID)
	}
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return nil, fmt.Errorf("%w: order %s has side %q", ErrContractViolation, order.OrderID, order.Side)
	}

	if m.Flat() {
		return m.open(order), nil
	}

	if m.sameDirection(order.Side) {
		return m.scaleIn(order), nil
	}
	return m.reduce(order)
}

// open starts a new position from flat. BUY opens long, SELL opens short.
func (m *Matcher) open(order types.Order) []Event {
	m.direction = directionFor(order.Side)
	m.exposure = order.Quantity

	return []Event{{
		Type:      EventOpen,
		Order:     order,
		Direction: m.direction,
		Quantity:  order.Quantity,
		Price:     order.Price,
		At:        *order.ExecutedAt,
	}}
}

// scaleIn adds a same-direction fill to the open position.
func (m *Matcher) scaleIn(order types.Order) []Event {
	m.exposure = m.exposure.Add(order.Quantity)

	return []Event{{
		Type:      EventScaleIn,
		Order:     order,
		Direction: m.direction,
		Quantity:  order.Quantity,
		Price:     order.Price,
		At:        *order.ExecutedAt,
	}}
}

// reduce handles an opposite-direction fill: partial close, exact close, or
// flip into the reverse direction when the fill exceeds the open exposure.
func (m *Matcher) reduce(order types.Order) ([]Event, error) {
	switch cmp := order.Quantity.Cmp(m.exposure); {
	case cmp < 0:
		m.exposure = m.exposure.Sub(order.Quantity)
		if !m.exposure.IsPositive() {
			return nil, fmt.Errorf("%w: negative exposure after scale-out of order %s", ErrReconciliationRequired, order.OrderID)
		}
		return []Event{{
			Type:      EventScaleOut,
			Order:     order,
			Direction: m.direction,
			Quantity:  order.Quantity,
			Price:     order.Price,
			At:        *order.ExecutedAt,
		}}, nil

	case cmp == 0:
		// An exact close is not a flip: the position goes flat with no new
		// open.
		closed := m.direction
		m.direction = ""
		m.exposure = decimal.Zero
		return []Event{{
			Type:      EventClose,
			Order:     order,
			Direction: closed,
			Quantity:  order.Quantity,
			Price:     order.Price,
			At:        *order.ExecutedAt,
		}}, nil

	default:
		// The fill exceeds the open exposure: split into a closing leg and
		// an opening leg at the same fill price. The source order belongs to
		// both resulting trades with disjoint quantities.
		closedQty := m.exposure
		openedQty := order.Quantity.Sub(m.exposure)
		closedDir := m.direction

		m.direction = reversed(closedDir)
		m.exposure = openedQty

		return []Event{{
			Type:      EventFlip,
			Order:     order,
			Direction: closedDir,
			Quantity:  closedQty,
			Opened:    openedQty,
			Price:     order.Price,
			At:        *order.ExecutedAt,
		}}, nil
	}
}

func (m *Matcher) sameDirection(side string) bool {
	return directionFor(side) == m.direction
}

func directionFor(side string) string {
	if side == types.SideBuy {
		return types.DirectionLong
	}
	return types.DirectionShort
}

func reversed(direction string) string {
	if direction == types.DirectionLong {
		return types.DirectionShort
	}
	return types.DirectionLong
}
