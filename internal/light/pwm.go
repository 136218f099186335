package light

import (
	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/flicker"
)

// PWMLight is a single-channel dimmable fixture without color.
type PWMLight struct {
	base
	frames frameLimiter
	cursor flicker.Cursor
	out    LevelOutput
}

var _ Light = (*PWMLight)(nil)

// NewPWM creates a PWM light writing to out.
func NewPWM(name string, clk clock.Clock, out LevelOutput) *PWMLight {
	return &PWMLight{base: newBase(name, clk), out: out}
}

func (p *PWMLight) Kind() Kind { return KindPWM }

func (p *PWMLight) Capabilities() Capability { return 0 }

func (p *PWMLight) PatternCount() int { return flicker.Count() }

// Setup turns the channel off and starts the animation clock.
func (p *PWMLight) Setup() error {
	now := p.clk.Now()
	p.frames.last = now
	p.cursor.Reset(now, int(p.pattern))
	return p.out.Set(0)
}

func (p *PWMLight) Advance() bool {
	now := p.clk.Now()
	if !p.frames.due(now) {
		return false
	}
	p.value = flicker.Advance(now, &p.cursor, int(p.pattern))
	p.reportOutput(p.out.Set(p.value))
	return true
}

func (p *PWMLight) SelectNextPattern() uint8 {
	return p.nextPattern(p.PatternCount())
}

func (p *PWMLight) Restore(cfg fixture.Config) bool {
	return p.restore(cfg, p.PatternCount())
}

// Identify blinks full on and off four times at 100 ms. Blocking.
func (p *PWMLight) Identify() error {
	return blinkLevel(p.clk, p.out)
}

func blinkLevel(clk clock.Clock, out LevelOutput) error {
	for i := 0; i < identifyFlashes; i++ {
		if err := out.Set(255); err != nil {
			return err
		}
		clk.Sleep(identifyPeriod)
		if err := out.Set(0); err != nil {
			return err
		}
		clk.Sleep(identifyPeriod)
	}
	return nil
}
