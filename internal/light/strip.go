package light

import (
	"fmt"
	"math/rand"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/color"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/flicker"
)

// MaxStrips is the number of physical strips one StripLight can drive.
const MaxStrips = 3

// jitterRange is the hue spread applied on jitter patterns.
const jitterRange = 32

// StripSpec declares one physical strip. A strip with Length 0 mirrors the
// primary strip: it is registered against the primary buffer instead of
// owning one.
type StripSpec struct {
	Output PixelOutput
	Length int
}

type stripTarget struct {
	out    PixelOutput
	buffer int
}

// StripLight is a color pattern light on one to three addressable strips.
type StripLight struct {
	base
	cycle   colorCycler
	frames  frameLimiter
	cursor  flicker.Cursor
	ambient Ambient
	rng     *rand.Rand

	buffers [][]color.HSV
	targets []stripTarget
}

var _ Light = (*StripLight)(nil)

// NewStrip creates a strip light. The first spec is the primary strip and
// must declare a length. ambient may be nil, in which case the ambient slot
// renders dark.
func NewStrip(name string, clk clock.Clock, ambient Ambient, strips ...StripSpec) (*StripLight, error) {
	if len(strips) == 0 || len(strips) > MaxStrips {
		return nil, fmt.Errorf("strip %q: need 1 to %d strips, got %d", name, MaxStrips, len(strips))
	}
	if strips[0].Length <= 0 {
		return nil, fmt.Errorf("strip %q: primary strip needs a length", name)
	}

	s := &StripLight{
		base:    newBase(name, clk),
		ambient: ambient,
		rng:     rand.New(rand.NewSource(int64(len(name)) + 1)),
	}
	for i, spec := range strips {
		if spec.Output == nil {
			return nil, fmt.Errorf("strip %q: strip %d has no output", name, i)
		}
		idx := 0
		if spec.Length > 0 {
			s.buffers = append(s.buffers, make([]color.HSV, spec.Length))
			idx = len(s.buffers) - 1
		}
		s.targets = append(s.targets, stripTarget{out: spec.Output, buffer: idx})
	}
	return s, nil
}

func (s *StripLight) Kind() Kind { return KindStrip }

func (s *StripLight) Capabilities() Capability { return CapColor | CapAmbient }

// PatternCount includes the ambient slot after the flicker patterns.
func (s *StripLight) PatternCount() int { return flicker.Count() + 1 }

// AmbientPattern is the id of the ambient slot.
func (s *StripLight) AmbientPattern() uint8 { return uint8(flicker.Count()) }

// Buffers returns the owned pixel buffers. Mirrored strips do not add one.
func (s *StripLight) Buffers() [][]color.HSV { return s.buffers }

// Setup clears every strip and starts the animation clocks.
func (s *StripLight) Setup() error {
	now := s.clk.Now()
	s.cycle.last = now
	s.frames.last = now
	s.cursor.Reset(now, int(s.pattern))
	s.fill(color.Black)
	return s.show()
}

// Advance renders one frame into each owned buffer and pushes it to every
// registered strip.
func (s *StripLight) Advance() bool {
	now := s.clk.Now()
	s.cycle.step(now, &s.base)

	if !s.frames.due(now) {
		return false
	}

	if s.pattern == s.AmbientPattern() {
		s.value = 255
		px := color.HSV{H: s.hue, S: s.saturation, V: s.value}
		for _, buf := range s.buffers {
			if s.ambient == nil {
				color.Fill(buf, color.Black)
				continue
			}
			s.ambient.Render(buf, px, now)
		}
	} else {
		s.value = flicker.Advance(now, &s.cursor, int(s.pattern))
		hue := s.hue
		if p, ok := flicker.Lookup(int(s.pattern)); ok && p.Jitter {
			hue += uint8(s.rng.Intn(jitterRange))
		}
		s.fill(color.HSV{H: hue, S: s.saturation, V: s.value})
	}

	s.reportOutput(s.show())
	return true
}

func (s *StripLight) SelectNextPattern() uint8 {
	return s.nextPattern(s.PatternCount())
}

func (s *StripLight) Restore(cfg fixture.Config) bool {
	return s.restore(cfg, s.PatternCount())
}

// Identify flashes all strips white and black four times, 100 ms each. It
// blocks the caller and does not preserve the animation cursor.
func (s *StripLight) Identify() error {
	for i := 0; i < identifyFlashes; i++ {
		s.fill(color.White)
		if err := s.show(); err != nil {
			return err
		}
		s.clk.Sleep(identifyPeriod)

		s.fill(color.Black)
		if err := s.show(); err != nil {
			return err
		}
		s.clk.Sleep(identifyPeriod)
	}
	return nil
}

func (s *StripLight) fill(c color.HSV) {
	for _, buf := range s.buffers {
		color.Fill(buf, c)
	}
}

func (s *StripLight) show() error {
	for i, t := range s.targets {
		if err := t.out.Show(s.buffers[t.buffer]); err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}
	}
	return nil
}
