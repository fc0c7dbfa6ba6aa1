package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradevault/journal-api/internal/database"
	"github.com/tradevault/journal-api/internal/orders"
	"github.com/tradevault/journal-api/internal/rebuild"
	"github.com/tradevault/journal-api/internal/types"
)

const (
	numUsers       = 4
	numWorkers     = 5
	ordersPerUser  = 300
	malformedShare = 0.02 // fraction of fills seeded without a timestamp
)

var (
	symbols  = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	accounts = []string{"ACC_MAIN", "ACC_IRA"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// stageStats tracks durations for one pipeline stage across runs
type stageStats struct {
	name      string
	durations []time.Duration
	failures  int
}

func (s *stageStats) add(d time.Duration) {
	s.durations = append(s.durations, d)
}

// calculate computes min, max, mean, median, 95th and 99th percentile
// durations from the recorded samples
func (s *stageStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(s.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(s.durations, func(i, j int) bool {
		return s.durations[i] < s.durations[j]
	})

	min = s.durations[0]
	max = s.durations[len(s.durations)-1]

	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	mean = sum / time.Duration(len(s.durations))
	median = s.durations[len(s.durations)/2]

	p95idx := int(math.Ceil(float64(len(s.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(s.durations))*0.99)) - 1
	p95 = s.durations[p95idx]
	p99 = s.durations[p99idx]

	return
}

func (s *stageStats) report() {
	min, max, mean, median, p95, p99 := s.calculate()
	log.Info().
		Str("stage", s.name).
		Int("samples", len(s.durations)).
		Int("failures", s.failures).
		Dur("min", min).
		Dur("max", max).
		Dur("mean", mean).
		Dur("median", median).
		Dur("p95", p95).
		Dur("p99", p99).
		Msg("stage statistics")
}

func main() {
	tmpDir, err := os.MkdirTemp("", "journal-simulation-*")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create temp dir")
	}
	defer os.RemoveAll(tmpDir)

	db, err := database.NewDatabase(filepath.Join(tmpDir, "simulation.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	ordersService := orders.NewService(db)
	rebuildService := rebuild.NewService(db, rebuild.Options{GroupWorkers: 4})

	// Stage 1: concurrent intake across workers, exercising the
	// idempotency path the way broker importers would.
	intakeStats := &stageStats{name: "order intake"}
	seedOrders(ordersService, intakeStats)
	intakeStats.report()

	// Stage 2: full rebuild per user.
	fullStats := &stageStats{name: "full rebuild"}
	results := make(map[string]*rebuild.Result, numUsers)
	for u := 0; u < numUsers; u++ {
		userID := fmt.Sprintf("USER_%d", u)
		start := time.Now()
		result, err := rebuildService.RebuildAllTrades(context.Background(), userID)
		if err != nil {
			fullStats.failures++
			log.Error().Err(err).Str("user_id", userID).Msg("full rebuild failed")
			continue
		}
		fullStats.add(time.Since(start))
		results[userID] = result

		log.Info().
			Str("user_id", userID).
			Int("trades", len(result.Trades)).
			Int("skipped_orders", len(result.Skipped)).
			Int("failed_groups", len(result.GroupErrors)).
			Msg("full rebuild completed")
	}
	fullStats.report()

	// Stage 3: verify conservation invariants on every constructed trade.
	verifyResults(results)

	// Stage 4: a second, incremental pass must be an empty delta.
	incrementalStats := &stageStats{name: "incremental rebuild"}
	for userID := range results {
		start := time.Now()
		result, err := rebuildService.ProcessUserOrders(context.Background(), userID)
		if err != nil {
			incrementalStats.failures++
			log.Error().Err(err).Str("user_id", userID).Msg("incremental rebuild failed")
			continue
		}
		incrementalStats.add(time.Since(start))

		if len(result.Trades) != 0 {
			log.Error().
				Str("user_id", userID).
				Int("trades", len(result.Trades)).
				Msg("expected empty delta on second run")
		}
	}
	incrementalStats.report()

	log.Info().Msg("simulation completed")
}

// seedOrders ingests randomized fill streams for every user across
// concurrent workers.
func seedOrders(service *orders.Service, stats *stageStats) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	perWorker := numUsers * ordersPerUser / numWorkers

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			base := time.Date(2024, time.March, 4, 14, 30, 0, 0, time.UTC)

			for i := 0; i < perWorker; i++ {
				order := randomOrder(rng, base, workerID*perWorker+i)

				start := time.Now()
				err := service.IngestOrder(order, "sim-"+uuid.New().String())
				elapsed := time.Since(start)

				mu.Lock()
				if err != nil {
					stats.failures++
				} else {
					stats.add(elapsed)
				}
				mu.Unlock()

				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("intake failed")
				}
			}
		}(w)
	}
	wg.Wait()
}

// randomOrder produces a plausible fill: random symbol/account/side, price
// on a coarse random walk, and occasionally a missing timestamp so skipped
// order reporting gets exercised too.
func randomOrder(rng *rand.Rand, base time.Time, seq int) *types.Order {
	order := &types.Order{
		UserID:     fmt.Sprintf("USER_%d", rng.Intn(numUsers)),
		AccountID:  accounts[rng.Intn(len(accounts))],
		Symbol:     symbols[rng.Intn(len(symbols))],
		AssetClass: types.AssetEquity,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(int64(10 + rng.Intn(190))),
		Price:      decimal.NewFromFloat(50 + rng.Float64()*450).Round(2),
		Commission: decimal.NewFromFloat(0.35),
		Fees:       decimal.NewFromFloat(0.05),
	}
	if rng.Float64() < 0.5 {
		order.Side = types.SideSell
	}

	if rng.Float64() >= malformedShare {
		executedAt := base.Add(time.Duration(seq) * 45 * time.Second)
		order.ExecutedAt = &executedAt
	}

	return order
}

// verifyResults checks the conservation invariants over every trade the
// rebuilds produced.
func verifyResults(results map[string]*rebuild.Result) {
	trades, violations := 0, 0

	for userID, result := range results {
		attributions := make(map[string]int)

		for _, trade := range result.Trades {
			trades++

			var entrySum decimal.Decimal
			for _, attribution := range trade.Orders {
				entrySum = entrySum.Add(attribution.Quantity)
				attributions[attribution.OrderID]++
			}

			if trade.IsClosed() && !trade.OpenQuantity.Equal(trade.CloseQuantity) {
				violations++
				log.Error().
					Str("user_id", userID).
					Str("trade_id", trade.TradeID).
					Str("open", trade.OpenQuantity.String()).
					Str("close", trade.CloseQuantity.String()).
					Msg("closed trade with unbalanced quantities")
			}
			if !trade.IsClosed() && trade.CloseQuantity.GreaterThanOrEqual(trade.OpenQuantity) {
				violations++
				log.Error().
					Str("user_id", userID).
					Str("trade_id", trade.TradeID).
					Msg("open trade with close quantity >= open quantity")
			}
			// Attributions cover entries plus exits of the trade.
			if !entrySum.Equal(trade.OpenQuantity.Add(trade.CloseQuantity)) {
				violations++
				log.Error().
					Str("user_id", userID).
					Str("trade_id", trade.TradeID).
					Str("attributed", entrySum.String()).
					Msg("attribution quantities do not cover the trade")
			}
		}

		// Only a flip order belongs to two trades; nothing belongs to more.
		for orderID, count := range attributions {
			if count > 2 {
				violations++
				log.Error().
					Str("user_id", userID).
					Str("order_id", orderID).
					Int("trades", count).
					Msg("order attributed to more than two trades")
			}
		}
	}

	if violations == 0 {
		log.Info().Int("trades", trades).Msg("all conservation invariants held")
	} else {
		log.Error().Int("violations", violations).Msg("invariant violations detected")
	}
}
