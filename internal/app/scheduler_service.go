package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/config"
	"github.com/dokzlo13/flickerd/internal/input"
	"github.com/dokzlo13/flickerd/internal/ledger"
	"github.com/dokzlo13/flickerd/internal/scheduler"
)

// SchedulerService runs the scheduling loop, the button poller and the
// ledger cleanup, each on its own goroutine.
type SchedulerService struct {
	cfg    *config.Config
	Loop   *scheduler.Loop
	poller *input.Poller
	ledger *ledger.Ledger

	wg sync.WaitGroup
}

// NewSchedulerService creates a new SchedulerService. poller and l may be nil.
func NewSchedulerService(cfg *config.Config, loop *scheduler.Loop, poller *input.Poller, l *ledger.Ledger) *SchedulerService {
	return &SchedulerService{
		cfg:    cfg,
		Loop:   loop,
		poller: poller,
		ledger: l,
	}
}

// Start begins the loop and related periodic tasks. onFatalError is called
// if the loop exits with an error.
func (s *SchedulerService) Start(ctx context.Context, onFatalError func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Loop.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if s.poller != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.poller.Run(ctx)
		}()
	} else {
		log.Info().Msg("No buttons configured")
	}

	// Ledger cleanup (if ledger is enabled)
	if s.ledger != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLedgerCleanup(ctx)
		}()
	}
}

// Wait blocks until every goroutine started by Start has returned.
func (s *SchedulerService) Wait() {
	s.wg.Wait()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
