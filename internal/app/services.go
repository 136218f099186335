package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/bank"
	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/config"
	"github.com/dokzlo13/flickerd/internal/db"
	"github.com/dokzlo13/flickerd/internal/eventbus"
	"github.com/dokzlo13/flickerd/internal/input"
	"github.com/dokzlo13/flickerd/internal/ledger"
	"github.com/dokzlo13/flickerd/internal/metrics"
	"github.com/dokzlo13/flickerd/internal/scheduler"
	"github.com/dokzlo13/flickerd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when disabled
	State  *storage.Store

	// Fixtures and their hardware
	Hardware *Hardware
	Bus      *eventbus.Bus
	Bank     *bank.Bank

	// High-level services
	Scheduler *SchedulerService
	Health    *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
	}

	// Initialize fixture state store
	s.State = storage.NewStore(database.DB)

	clk := clock.NewSystem()

	// Open hardware and build fixtures
	s.Hardware, err = NewHardware(cfg, clk)
	if err != nil {
		s.Close()
		return nil, err
	}

	bankOpts := bank.Options{State: s.State}
	if s.Ledger != nil {
		bankOpts.Ledger = s.Ledger
	}
	var detector scheduler.CardDetector
	if s.Hardware.Reader != nil {
		bankOpts.Tags, err = NewTagStore(cfg, s.Hardware.Reader)
		if err != nil {
			s.Close()
			return nil, err
		}
		bankOpts.Registry, err = NewRegistry(cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		detector = s.Hardware.Reader
	}

	s.Bank, err = bank.New(s.Hardware.Lights, bankOpts)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithSize(cfg.EventBus.GetQueueSize())
	s.Bus.OnDrop(func(input.Event) { metrics.EventDropped() })

	loop := scheduler.New(s.Bank, s.Bus, detector, scheduler.Options{
		TickInterval: cfg.Loop.TickInterval.Duration(),
		TagPollRate:  cfg.RFID.PollRate,
	})

	var poller *input.Poller
	if len(s.Hardware.Buttons) > 0 {
		b := cfg.Buttons
		timing := input.Timing{
			Debounce:    millis(b.Debounce),
			Click:       millis(b.Click),
			DoubleClick: millis(b.DoubleClick),
			LongPress:   millis(b.LongPress),
		}
		poller, err = input.NewPoller(clk, s.Bus, timing, b.PollInterval.Duration(), s.Hardware.Buttons...)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	// Initialize scheduler service
	s.Scheduler = NewSchedulerService(cfg, loop, poller, s.Ledger)

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Bank, s.Ledger)

	return s, nil
}

func millis(d config.Duration) clock.Millis {
	return clock.Millis(d.Duration().Milliseconds())
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Fixtures resume their stored state before the first frame
	if err := s.Bank.Setup(); err != nil {
		return fmt.Errorf("fixture setup: %w", err)
	}

	// Start all background services
	s.Scheduler.Start(ctx, onFatalError)
	s.Health.Start(ctx)

	log.Info().
		Int("fixtures", s.Bank.Len()).
		Bool("tag_reader", s.Hardware.Reader != nil).
		Int("buttons", len(s.Hardware.Buttons)).
		Msg("Services started")
	return nil
}

// ClearState clears all stored fixture state.
func (s *Services) ClearState() error {
	return s.State.Clear()
}

// Stop gracefully stops all services. The context passed to Start must be
// cancelled first.
func (s *Services) Stop() error {
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Scheduler != nil {
		s.Scheduler.Wait()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Hardware != nil {
		s.Hardware.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
