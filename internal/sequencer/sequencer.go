package sequencer

import (
	"fmt"
	"sort"

	"github.com/tradevault/journal-api/internal/types"
)

// GroupKey identifies one (account, symbol) matching group. All matching
// state is local to a group; a trade never crosses group boundaries.
type GroupKey struct {
	AccountID string
	Symbol    string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%s", k.AccountID, k.Symbol)
}

// SkippedOrder reports an order excluded from matching, with the reason.
// Skipped orders never abort a run.
type SkippedOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// Skip reasons.
const (
	ReasonMissingExecutedAt   = "missing execution timestamp"
	ReasonNonPositiveQuantity = "non-positive quantity"
	ReasonDuplicateOrderID    = "duplicate order id"
)

// Sequence deduplicates the given orders, groups them by (account, symbol)
// and establishes the total processing order within each group: executed_at
// ascending, tie-broken by ingestion sequence so that two fills sharing a
// timestamp still sort deterministically. The returned sequences are the sole
// input to the position matcher; pipeline determinism rests on this ordering
// being stable and total.
func Sequence(orders []types.Order) (map[GroupKey][]types.Order, []SkippedOrder) {
	groups := make(map[GroupKey][]types.Order)
	var skipped []SkippedOrder
	seen := make(map[string]struct{}, len(orders))

	for _, order := range orders {
		if _, dup := seen[order.OrderID]; dup {
			skipped = append(skipped, SkippedOrder{OrderID: order.OrderID, Reason: ReasonDuplicateOrderID})
			continue
		}
		seen[order.OrderID] = struct{}{}

		if order.ExecutedAt == nil {
			skipped = append(skipped, SkippedOrder{OrderID: order.OrderID, Reason: ReasonMissingExecutedAt})
			continue
		}
		if !order.Quantity.IsPositive() {
			skipped = append(skipped, SkippedOrder{OrderID: order.OrderID, Reason: ReasonNonPositiveQuantity})
			continue
		}

		key := GroupKey{AccountID: order.AccountID, Symbol: order.Symbol}
		groups[key] = append(groups[key], order)
	}

	for _, seq := range groups {
		sort.SliceStable(seq, func(i, j int) bool {
			ti, tj := *seq[i].ExecutedAt, *seq[j].ExecutedAt
			if ti.Equal(tj) {
				return seq[i].Sequence() < seq[j].Sequence()
			}
			return ti.Before(tj)
		})
	}

	return groups, skipped
}

// Keys returns the group keys in a deterministic order, useful for stable
// iteration when results are collected across groups.
func Keys(groups map[GroupKey][]types.Order) []GroupKey {
	keys := make([]GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].AccountID == keys[j].AccountID {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].AccountID < keys[j].AccountID
	})
	return keys
}
