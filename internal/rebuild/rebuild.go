package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tradevault/journal-api/internal/matcher"
	"github.com/tradevault/journal-api/internal/sequencer"
	"github.com/tradevault/journal-api/internal/trades"
	"github.com/tradevault/journal-api/internal/types"
	"github.com/tradevault/journal-api/pkg/response"
)

var (
	// ErrRebuildInProgress is returned when a rebuild is requested for a
	// user whose previous rebuild has not finished. Two rebuilds racing on
	// the same order tags would break the one-trade-per-order invariant, so
	// concurrent requests are rejected rather than interleaved.
	ErrRebuildInProgress = errors.New("a rebuild is already running for this user")
)

// Group error codes surfaced in Result.
const (
	CodeGroupFailure           = "GROUP_FAILURE"
	CodeReconciliationRequired = "RECONCILIATION_REQUIRED"
)

// GroupError reports a failure isolated to one (account, symbol) group.
// Other groups of the same rebuild still complete.
type GroupError struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Result is the outcome of one rebuild call: the trades it constructed, the
// malformed orders it excluded, and the groups that failed. A rebuild never
// collapses these into a single opaque error.
type Result struct {
	UserID      string                   `json:"user_id"`
	Full        bool                     `json:"full"`
	Trades      []types.Trade            `json:"trades"`
	Skipped     []sequencer.SkippedOrder `json:"skipped_orders,omitempty"`
	GroupErrors []GroupError             `json:"group_errors,omitempty"`
}

// Options configures the rebuild controller.
type Options struct {
	// GroupWorkers bounds the number of (account, symbol) groups matched in
	// parallel for a single user. Zero or negative means 1.
	GroupWorkers int

	// MarketTimezone supplies the calendar for the intraday/multiday split.
	// Nil means UTC.
	MarketTimezone *time.Location
}

// Service is the rebuild controller: it derives trades from orders, either
// incrementally or from scratch, and persists each user's batch atomically.
type Service struct {
	db   *Database
	opts Options

	mu     sync.Mutex
	active map[string]struct{}
}

// NewService creates a rebuild controller with the given database connection.
func NewService(gormDB *gorm.DB, opts Options) *Service {
	if opts.GroupWorkers <= 0 {
		opts.GroupWorkers = 1
	}
	if opts.MarketTimezone == nil {
		opts.MarketTimezone = time.UTC
	}
	return &Service{
		db:     NewDatabase(gormDB),
		opts:   opts,
		active: make(map[string]struct{}),
	}
}

// ProcessUserOrders runs an incremental rebuild: every group that has
// unconsumed orders is rebuilt from that group's full order history, and the
// new trade set replaces the group's previous trades in one transaction.
// Groups with no new orders are left untouched, so running this twice with
// no new orders in between returns an empty delta the second time.
func (s *Service) ProcessUserOrders(ctx context.Context, userID string) (*Result, error) {
	return s.rebuild(ctx, userID, false)
}

// RebuildAllTrades runs a full rebuild: all of the user's trades and order
// tags are cleared and every order is reprocessed from scratch. This mode is
// a pure function of the order set and is the authoritative reference for
// correctness.
func (s *Service) RebuildAllTrades(ctx context.Context, userID string) (*Result, error) {
	return s.rebuild(ctx, userID, true)
}

func (s *Service) rebuild(ctx context.Context, userID string, full bool) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.acquire(userID) {
		return nil, fmt.Errorf("%w: %s", ErrRebuildInProgress, userID)
	}
	defer s.release(userID)

	logger := log.With().
		Str("user_id", userID).
		Bool("full", full).
		Str("service", "rebuild").
		Logger()

	result := &Result{UserID: userID, Full: full, Trades: []types.Trade{}}

	unconsumed, err := s.db.GetUnconsumedOrders(userID)
	if err != nil {
		return nil, err
	}
	if !full && len(unconsumed) == 0 {
		logger.Debug().Msg("no unconsumed orders, nothing to rebuild")
		return result, nil
	}

	// Incremental scope: only groups holding matchable unconsumed orders.
	// Orders that will be skipped do not reopen a group on their own.
	pendingGroups, pendingSkipped := sequencer.Sequence(unconsumed)
	if !full && len(pendingGroups) == 0 {
		result.Skipped = pendingSkipped
		logger.Debug().Int("skipped", len(pendingSkipped)).Msg("only unmatchable orders pending, nothing to rebuild")
		return result, nil
	}

	all, err := s.db.GetAllOrders(userID)
	if err != nil {
		return nil, err
	}

	groups, skipped := sequencer.Sequence(all)
	keys := sequencer.Keys(groups)
	if !full {
		keys = filterKeys(keys, pendingGroups)
		skipped = pendingSkipped
	}
	result.Skipped = skipped

	logger.Debug().
		Int("orders", len(all)).
		Int("groups", len(keys)).
		Msg("matching groups")

	committed, groupErrors := s.matchGroups(groups, keys)
	result.GroupErrors = groupErrors

	if err := s.db.CommitRebuild(userID, full, committed); err != nil {
		logger.Error().Err(err).Msg("failed to commit rebuild batch")
		return nil, fmt.Errorf("failed to commit rebuild for user %s: %w", userID, err)
	}

	for _, group := range committed {
		result.Trades = append(result.Trades, group.Trades...)
	}

	logger.Info().
		Int("groups", len(keys)).
		Int("trades", len(result.Trades)).
		Int("skipped_orders", len(result.Skipped)).
		Int("failed_groups", len(result.GroupErrors)).
		Msg("rebuild completed")

	return result, nil
}

// matchGroups runs the sequencer output of the selected groups through the
// matcher and aggregator, in parallel across groups with bounded workers.
// The pipeline within one group is strictly sequential and never suspends
// mid-group.
func (s *Service) matchGroups(groups map[sequencer.GroupKey][]types.Order, keys []sequencer.GroupKey) ([]CommittedGroup, []GroupError) {
	type groupOutcome struct {
		key    sequencer.GroupKey
		trades []types.Trade
		err    error
	}

	outcomes := make([]groupOutcome, len(keys))
	sem := make(chan struct{}, s.opts.GroupWorkers)
	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, key sequencer.GroupKey) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = groupOutcome{key: key, err: fmt.Errorf("panic while matching group %s: %v", key, r)}
				}
			}()

			built, err := s.matchGroup(key, groups[key])
			outcomes[i] = groupOutcome{key: key, trades: built, err: err}
		}(i, key)
	}
	wg.Wait()

	var committed []CommittedGroup
	var groupErrors []GroupError
	for _, outcome := range outcomes {
		if outcome.err != nil {
			code := CodeGroupFailure
			if errors.Is(outcome.err, matcher.ErrReconciliationRequired) {
				code = CodeReconciliationRequired
			}
			groupErrors = append(groupErrors, GroupError{
				AccountID: outcome.key.AccountID,
				Symbol:    outcome.key.Symbol,
				Code:      code,
				Message:   outcome.err.Error(),
			})
			continue
		}
		committed = append(committed, CommittedGroup{
			AccountID: outcome.key.AccountID,
			Symbol:    outcome.key.Symbol,
			Trades:    outcome.trades,
		})
	}
	return committed, groupErrors
}

// matchGroup runs one group's ordered executions through a fresh matcher and
// aggregator instance.
func (s *Service) matchGroup(key sequencer.GroupKey, seq []types.Order) ([]types.Trade, error) {
	m := matcher.New()
	agg := trades.NewAggregator(s.opts.MarketTimezone)

	for _, order := range seq {
		events, err := m.Process(order)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", key, err)
		}
		for _, ev := range events {
			if err := agg.Apply(ev); err != nil {
				return nil, fmt.Errorf("group %s: %w", key, err)
			}
		}
	}

	return agg.Finish(), nil
}

func (s *Service) acquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[userID]; busy {
		return false
	}
	s.active[userID] = struct{}{}
	return true
}

func (s *Service) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, userID)
}

// filterKeys keeps only the keys present in the pending group set.
func filterKeys(keys []sequencer.GroupKey, pending map[sequencer.GroupKey][]types.Order) []sequencer.GroupKey {
	filtered := keys[:0]
	for _, key := range keys {
		if _, ok := pending[key]; ok {
			filtered = append(filtered, key)
		}
	}
	return filtered
}

// GinHandlers contains HTTP handlers for rebuild endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ProcessUserHandler handles POST requests for incremental rebuilds.
// URL parameter: user_id.
func (h *GinHandlers) ProcessUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.ProcessUserOrders(c.Request.Context(), c.Param("user_id"))
		if errors.Is(err, ErrRebuildInProgress) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

// RebuildUserHandler handles POST requests for full rebuilds.
// URL parameter: user_id.
func (h *GinHandlers) RebuildUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.RebuildAllTrades(c.Request.Context(), c.Param("user_id"))
		if errors.Is(err, ErrRebuildInProgress) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, result, err)
	}
}
