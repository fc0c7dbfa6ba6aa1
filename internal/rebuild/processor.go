package rebuild

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically runs incremental rebuilds for every user with
// unconsumed orders, so trades stay current without callers having to
// trigger processing themselves.
type Processor struct {
	service     *Service
	interval    time.Duration
	userWorkers int
}

// NewProcessor creates a background processor over the given controller.
func NewProcessor(service *Service, interval time.Duration, userWorkers int) *Processor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if userWorkers <= 0 {
		userWorkers = 1
	}
	return &Processor{
		service:     service,
		interval:    interval,
		userWorkers: userWorkers,
	}
}

// Start begins the processing loop and blocks until the context is canceled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "rebuild_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting rebuild processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down rebuild processor")
			return
		case <-ticker.C:
			if err := p.processPendingUsers(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process pending users")
			}
		}
	}
}

// processPendingUsers runs incremental rebuilds across users with bounded
// parallelism. Users are independent, so this is embarrassingly parallel;
// cancellation is honored between users, never mid-rebuild.
func (p *Processor) processPendingUsers(ctx context.Context) error {
	logger := log.With().Str("component", "rebuild_processor").Logger()

	userIDs, err := p.service.db.GetPendingUserIDs()
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}

	// Debug: a user whose pending orders are all unmatchable stays in this
	// set across ticks, and that must not flood the log.
	logger.Debug().Int("pending_users", len(userIDs)).Msg("processing users with unconsumed orders")

	sem := make(chan struct{}, p.userWorkers)
	var wg sync.WaitGroup

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := p.service.ProcessUserOrders(ctx, userID)
			switch {
			case errors.Is(err, ErrRebuildInProgress):
				logger.Debug().Str("user_id", userID).Msg("rebuild already running, skipping")
			case err != nil:
				logger.Error().Err(err).Str("user_id", userID).Msg("incremental rebuild failed")
			default:
				ev := logger.Info()
				if len(result.Trades) == 0 && len(result.GroupErrors) == 0 {
					// Nothing changed for this user; stay quiet on repeat ticks.
					ev = logger.Debug()
				}
				ev.Str("user_id", userID).
					Int("trades", len(result.Trades)).
					Int("skipped_orders", len(result.Skipped)).
					Int("failed_groups", len(result.GroupErrors)).
					Msg("incremental rebuild completed")
			}
		}(userID)
	}

	wg.Wait()
	return ctx.Err()
}
