// Package light implements the fixture kinds flickerd can animate.
//
// Every fixture is a Light: it is set up once and then advanced on every pass
// of the scheduling loop for the life of the process. Lights own all of their
// animation state; the output back-ends they write to are injected.
package light

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/color"
	"github.com/dokzlo13/flickerd/internal/fixture"
)

// ErrUnsupported is returned when a fixture kind is not enabled for use.
var ErrUnsupported = errors.New("unsupported fixture kind")

const (
	// colorCycleInterval is the minimum time between hue increments.
	colorCycleInterval clock.Millis = 20
	// frameInterval caps pattern rendering at roughly 60 frames per second.
	frameInterval clock.Millis = 16
	// identifyFlashes and identifyPeriod shape the blocking identify blink.
	identifyFlashes = 4
	identifyPeriod  = 100 * time.Millisecond
)

// Kind names a fixture kind.
type Kind int

const (
	KindStrip Kind = iota
	KindPWM
	KindDigital
	KindFairyLights
)

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStrip:
		return "strip"
	case KindPWM:
		return "pwm"
	case KindDigital:
		return "digital"
	case KindFairyLights:
		return "fairy"
	default:
		return "unknown"
	}
}

// Capability is a bit set describing what a fixture can do.
type Capability uint8

const (
	// CapColor means hue and saturation are visible.
	CapColor Capability = 1 << iota
	// CapAmbient means the extra ambient pattern slot is available.
	CapAmbient
	// CapBinaryOnly means only on/off patterns can be selected.
	CapBinaryOnly
	// CapClickEmulated means patterns are stepped on an external controller.
	CapClickEmulated
)

// Has reports whether all bits of o are set.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

// Settings are the operator-adjustable color fields of a fixture.
type Settings struct {
	CycleColor bool
	Hue        uint8
	Saturation uint8
}

// Light is the capability set shared by all fixture kinds.
type Light interface {
	Name() string
	Kind() Kind
	Capabilities() Capability

	// Setup initializes outputs and animation cursors. Called once.
	Setup() error
	// Advance runs one animation step. A false result means nothing visible
	// changed; it is only a hint.
	Advance() bool

	// SelectNextPattern moves to the next pattern and returns its id.
	SelectNextPattern() uint8
	SelectedPattern() uint8
	PatternCount() int

	Settings() Settings
	Configure(Settings)
	// Value is the brightness rendered on the last frame.
	Value() uint8

	Snapshot() fixture.Config
	// Restore applies cfg. Pattern ids the fixture cannot show are clamped
	// into range and reported with clamped=true.
	Restore(cfg fixture.Config) (clamped bool)

	// Identify blocks while running a short attention sequence.
	Identify() error
}

// PixelOutput transmits a pixel buffer to one physical strip.
type PixelOutput interface {
	Show(pixels []color.HSV) error
}

// LevelOutput drives a single intensity channel.
type LevelOutput interface {
	Set(level uint8) error
}

// ButtonOutput emulates a push button on an external controller.
type ButtonOutput interface {
	Press() error
	Release() error
}

// Ambient renders the non-flicker ambient pattern directly into a buffer.
type Ambient interface {
	Render(pixels []color.HSV, base color.HSV, now clock.Millis)
}

// Status is a read-only view of a fixture, used for diagnostics.
type Status struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Pattern      uint8  `json:"pattern"`
	PatternCount int    `json:"pattern_count"`
	CycleColor   bool   `json:"cycle_color"`
	Hue          uint8  `json:"hue"`
	Saturation   uint8  `json:"saturation"`
	Value        uint8  `json:"value"`
}

// Describe builds a Status for l.
func Describe(l Light) Status {
	s := l.Settings()
	return Status{
		Name:         l.Name(),
		Kind:         l.Kind().String(),
		Pattern:      l.SelectedPattern(),
		PatternCount: l.PatternCount(),
		CycleColor:   s.CycleColor,
		Hue:          s.Hue,
		Saturation:   s.Saturation,
		Value:        l.Value(),
	}
}

// base holds the fields every kind shares.
type base struct {
	name  string
	clk   clock.Clock
	outOK bool

	pattern    uint8
	cycleColor bool
	hue        uint8
	saturation uint8
	value      uint8
}

func newBase(name string, clk clock.Clock) base {
	return base{name: name, clk: clk, outOK: true}
}

func (b *base) Name() string { return b.name }

func (b *base) SelectedPattern() uint8 { return b.pattern }

func (b *base) Value() uint8 { return b.value }

func (b *base) Settings() Settings {
	return Settings{CycleColor: b.cycleColor, Hue: b.hue, Saturation: b.saturation}
}

func (b *base) Configure(s Settings) {
	b.cycleColor = s.CycleColor
	b.hue = s.Hue
	b.saturation = s.Saturation
}

func (b *base) Snapshot() fixture.Config {
	return fixture.Config{
		CycleColor: b.cycleColor,
		PatternID:  b.pattern,
		Hue:        b.hue,
		Saturation: b.saturation,
	}
}

// restore applies cfg with its pattern clamped to count.
func (b *base) restore(cfg fixture.Config, count int) bool {
	clamped := cfg.Validate(count) != nil
	cfg = cfg.Clamp(count)
	b.cycleColor = cfg.CycleColor
	b.pattern = cfg.PatternID
	b.hue = cfg.Hue
	b.saturation = cfg.Saturation
	return clamped
}

// nextPattern advances the selection modulo count.
func (b *base) nextPattern(count int) uint8 {
	b.pattern = uint8((int(b.pattern) + 1) % count)
	return b.pattern
}

// reportOutput logs output failures on transitions only, so a disconnected
// back-end does not flood the log at frame rate.
func (b *base) reportOutput(err error) {
	switch {
	case err != nil && b.outOK:
		log.Warn().Err(err).Str("light", b.name).Msg("Output write failed")
		b.outOK = false
	case err == nil && !b.outOK:
		log.Info().Str("light", b.name).Msg("Output recovered")
		b.outOK = true
	}
}

// colorCycler rotates hue when color cycling is on.
type colorCycler struct {
	last clock.Millis
}

func (c *colorCycler) step(now clock.Millis, b *base) bool {
	if clock.Since(c.last, now) < colorCycleInterval {
		return false
	}
	c.last = now
	if !b.cycleColor {
		return false
	}
	b.hue++
	return true
}

// frameLimiter throttles rendering to frameInterval.
type frameLimiter struct {
	last clock.Millis
}

func (f *frameLimiter) due(now clock.Millis) bool {
	if clock.Since(f.last, now) < frameInterval {
		return false
	}
	f.last = now
	return true
}
