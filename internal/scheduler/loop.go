// Package scheduler runs the single cooperative loop that owns every
// fixture: it dispatches queued button events, polls the tag reader and
// advances all fixtures.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/flickerd/internal/bank"
	"github.com/dokzlo13/flickerd/internal/eventbus"
	"github.com/dokzlo13/flickerd/internal/metrics"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

const (
	// DefaultTickInterval paces the loop faster than the fastest frame.
	DefaultTickInterval = 2 * time.Millisecond
	// DefaultTagPollRate is how many times per second the reader is polled.
	DefaultTagPollRate = 10
	// dispatchLimit bounds the events handled per pass so a burst cannot
	// starve the animation.
	dispatchLimit = 8
)

// CardDetector reports a card that entered the field. A false result with a
// nil error means no card.
type CardDetector interface {
	Detect() (tagstore.Card, bool, error)
}

// Options tune the loop.
type Options struct {
	TickInterval time.Duration
	// TagPollRate is in polls per second. Zero uses the default; a negative
	// value polls on every pass.
	TagPollRate float64
}

// Loop is the scheduling loop.
type Loop struct {
	bank     *bank.Bank
	bus      *eventbus.Bus
	detector CardDetector
	limiter  *rate.Limiter
	interval time.Duration

	detectOK bool
}

// New creates a loop and subscribes the bank to every bus event. detector
// may be nil when no reader is installed.
func New(b *bank.Bank, bus *eventbus.Bus, detector CardDetector, opts Options) *Loop {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	limit := rate.Limit(opts.TagPollRate)
	switch {
	case opts.TagPollRate == 0:
		limit = DefaultTagPollRate
	case opts.TagPollRate < 0:
		limit = rate.Inf
	}

	bus.SubscribeAll(b.HandleEvent)
	return &Loop{
		bank:     b,
		bus:      bus,
		detector: detector,
		limiter:  rate.NewLimiter(limit, 1),
		interval: opts.TickInterval,
		detectOK: true,
	}
}

// Pass runs one loop iteration and returns how many fixtures rendered.
func (l *Loop) Pass() int {
	start := time.Now()

	l.bus.Dispatch(dispatchLimit)
	// With the tag override set the reader stays idle.
	if l.detector != nil && !l.bank.Context().TagOverride && l.limiter.Allow() {
		l.pollTag()
	}
	changed := l.bank.Tick()

	metrics.ObserveTick(time.Since(start).Seconds())
	return changed
}

func (l *Loop) pollTag() {
	card, ok, err := l.detector.Detect()
	switch {
	case err != nil && l.detectOK:
		log.Warn().Err(err).Msg("Tag reader failed")
		l.detectOK = false
		return
	case err != nil:
		return
	case !l.detectOK:
		log.Info().Msg("Tag reader recovered")
		l.detectOK = true
	}
	if !ok {
		return
	}

	log.Debug().Hex("uid", card.UID).Str("type", card.Type).Msg("Tag detected")
	// Failures are logged and recorded by the bank; the loop carries on.
	_, _ = l.bank.HandleTag(card)
}

// Run drives passes until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", l.interval).Bool("tag_reader", l.detector != nil).Msg("Scheduling loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduling loop stopping")
			return nil
		case <-ticker.C:
			l.Pass()
		}
	}
}
