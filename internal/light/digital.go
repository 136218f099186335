package light

import (
	"fmt"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/flicker"
)

// digitalThreshold is the lowest level rendered as on.
const digitalThreshold = 128

// DigitalLight is an on/off fixture. Most flicker patterns collapse into
// indistinguishable blinking on a binary channel, so it only ever selects
// binary patterns; it is not enabled unless explicitly allowed.
type DigitalLight struct {
	base
	frames  frameLimiter
	cursor  flicker.Cursor
	out     LevelOutput
	allowed []uint8
}

var _ Light = (*DigitalLight)(nil)

// NewDigital creates a digital light. It returns ErrUnsupported unless
// allowUnsupported is set.
func NewDigital(name string, clk clock.Clock, out LevelOutput, allowUnsupported bool) (*DigitalLight, error) {
	if !allowUnsupported {
		return nil, fmt.Errorf("digital light %q: %w", name, ErrUnsupported)
	}
	d := &DigitalLight{base: newBase(name, clk), out: out}
	for i, p := range flicker.Patterns() {
		if p.Binary() {
			d.allowed = append(d.allowed, uint8(i))
		}
	}
	d.pattern = d.allowed[0]
	return d, nil
}

func (d *DigitalLight) Kind() Kind { return KindDigital }

func (d *DigitalLight) Capabilities() Capability { return CapBinaryOnly }

// PatternCount is the flicker id space; only Compatible ids are selectable.
func (d *DigitalLight) PatternCount() int { return flicker.Count() }

// Compatible reports whether pattern id can be shown on this fixture.
func (d *DigitalLight) Compatible(id uint8) bool {
	for _, a := range d.allowed {
		if a == id {
			return true
		}
	}
	return false
}

func (d *DigitalLight) Setup() error {
	now := d.clk.Now()
	d.frames.last = now
	d.cursor.Reset(now, int(d.pattern))
	return d.out.Set(0)
}

func (d *DigitalLight) Advance() bool {
	now := d.clk.Now()
	if !d.frames.due(now) {
		return false
	}
	level := flicker.Advance(now, &d.cursor, int(d.pattern))
	if level >= digitalThreshold {
		d.value = 255
	} else {
		d.value = 0
	}
	d.reportOutput(d.out.Set(d.value))
	return true
}

// SelectNextPattern moves to the next binary pattern.
func (d *DigitalLight) SelectNextPattern() uint8 {
	next := d.allowed[0]
	for i, a := range d.allowed {
		if a == d.pattern {
			next = d.allowed[(i+1)%len(d.allowed)]
			break
		}
	}
	d.pattern = next
	return d.pattern
}

// Restore applies cfg, replacing incompatible patterns with the first
// binary one.
func (d *DigitalLight) Restore(cfg fixture.Config) bool {
	clamped := d.restore(cfg, d.PatternCount())
	if !d.Compatible(d.pattern) {
		d.pattern = d.allowed[0]
		clamped = true
	}
	return clamped
}

func (d *DigitalLight) Identify() error {
	return blinkLevel(d.clk, d.out)
}
