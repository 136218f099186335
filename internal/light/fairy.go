package light

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/fixture"
)

const (
	// clickHold is how long each half of an emulated click lasts. The
	// external controller debounces its own button and misses faster clicks.
	clickHold = 40 * time.Millisecond
	// fairyBlinks and fairyBlinkHold shape the identify sequence.
	fairyBlinks    = 3
	fairyBlinkHold = 100 * time.Millisecond
)

// FairyOptions describe the external controller's pattern cycle.
type FairyOptions struct {
	// Patterns is the number of patterns the controller cycles through.
	Patterns uint8
	// Off and On are the ids of the dark and the steady-on patterns.
	Off, On uint8
}

// DefaultFairyOptions matches the common nine-mode fairy light controllers.
var DefaultFairyOptions = FairyOptions{Patterns: 9, Off: 0, On: 8}

// FairyLights drives a fairy light string through its own controller by
// clicking its mode button. The controller only steps forward, so reaching a
// pattern takes Distance clicks.
type FairyLights struct {
	base
	out   ButtonOutput
	opts  FairyOptions
	acked uint8
}

var _ Light = (*FairyLights)(nil)

// NewFairyLights creates a fairy light controller. The controller is assumed
// to power up on pattern 0.
func NewFairyLights(name string, clk clock.Clock, out ButtonOutput, opts FairyOptions) (*FairyLights, error) {
	if opts.Patterns == 0 {
		return nil, fmt.Errorf("fairy lights %q: pattern count must be positive", name)
	}
	if opts.Off >= opts.Patterns || opts.On >= opts.Patterns {
		return nil, fmt.Errorf("fairy lights %q: off/on ids must be below %d", name, opts.Patterns)
	}
	return &FairyLights{base: newBase(name, clk), out: out, opts: opts}, nil
}

// Distance is the number of forward clicks from current to desired.
func Distance(current, desired, patterns uint8) uint8 {
	n := int(patterns)
	return uint8(((int(desired)-int(current))%n + n) % n)
}

func (f *FairyLights) Kind() Kind { return KindFairyLights }

func (f *FairyLights) Capabilities() Capability { return CapClickEmulated }

func (f *FairyLights) PatternCount() int { return int(f.opts.Patterns) }

// Acknowledged is the pattern the external controller is believed to show.
func (f *FairyLights) Acknowledged() uint8 { return f.acked }

// Setup releases the button line.
func (f *FairyLights) Setup() error {
	return f.out.Release()
}

// Advance clicks the controller forward until it shows the selected pattern.
// It blocks for 80 ms per click.
func (f *FairyLights) Advance() bool {
	if f.pattern == f.acked {
		return false
	}
	n := Distance(f.acked, f.pattern, f.opts.Patterns)
	log.Debug().
		Str("light", f.name).
		Uint8("from", f.acked).
		Uint8("to", f.pattern).
		Uint8("clicks", n).
		Msg("Stepping fairy light controller")

	for i := uint8(0); i < n; i++ {
		if err := f.click(); err != nil {
			f.reportOutput(err)
			return true
		}
		f.acked = (f.acked + 1) % f.opts.Patterns
	}
	f.reportOutput(nil)
	return true
}

func (f *FairyLights) SelectNextPattern() uint8 {
	return f.nextPattern(f.PatternCount())
}

func (f *FairyLights) Restore(cfg fixture.Config) bool {
	return f.restore(cfg, f.PatternCount())
}

// Identify switches off, blinks steady-on three times and returns to the
// previously selected pattern, all through clicks. Blocking.
func (f *FairyLights) Identify() error {
	orig := f.pattern
	defer func() {
		f.pattern = orig
		f.Advance()
	}()

	f.pattern = f.opts.Off
	f.Advance()
	for i := 0; i < fairyBlinks; i++ {
		f.pattern = f.opts.On
		f.Advance()
		f.clk.Sleep(fairyBlinkHold)
		f.pattern = f.opts.Off
		f.Advance()
		f.clk.Sleep(fairyBlinkHold)
	}
	if !f.outOK {
		return fmt.Errorf("fairy lights %q: click output failed", f.name)
	}
	return nil
}

func (f *FairyLights) click() error {
	if err := f.out.Press(); err != nil {
		return err
	}
	f.clk.Sleep(clickHold)
	if err := f.out.Release(); err != nil {
		return err
	}
	f.clk.Sleep(clickHold)
	return nil
}
