package input

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"

	"github.com/dokzlo13/flickerd/internal/clock"
)

// DefaultPollInterval is how often buttons are sampled.
const DefaultPollInterval = 5 * time.Millisecond

// Publisher receives detected events. Publish must not block.
type Publisher interface {
	Publish(Event) bool
}

// Source wires a button to an active-low input pin.
type Source struct {
	Button Button
	Pin    gpio.PinIn
}

type polled struct {
	pin gpio.PinIn
	det *Detector
}

// Poller samples button pins and publishes their events.
type Poller struct {
	clk      clock.Clock
	pub      Publisher
	interval time.Duration
	sources  []polled
	buf      []Event
}

// NewPoller configures every pin as a pulled-up input.
func NewPoller(clk clock.Clock, pub Publisher, timing Timing, interval time.Duration, sources ...Source) (*Poller, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{clk: clk, pub: pub, interval: interval}
	for _, s := range sources {
		if err := s.Pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("button %s: configure pin: %w", s.Button, err)
		}
		p.sources = append(p.sources, polled{pin: s.Pin, det: NewDetector(s.Button, timing)})
	}
	return p, nil
}

// Poll samples every button once and publishes the resulting events.
func (p *Poller) Poll() {
	now := p.clk.Now()
	p.buf = p.buf[:0]
	for _, s := range p.sources {
		p.buf = s.det.Sample(s.pin.Read() == gpio.Low, now, p.buf)
	}
	for _, ev := range p.buf {
		log.Debug().Str("button", ev.Button.String()).Str("event", ev.Type.String()).Msg("Button event")
		p.pub.Publish(ev)
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Int("buttons", len(p.sources)).Dur("interval", p.interval).Msg("Button poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Button poller stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}
