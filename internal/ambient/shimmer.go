// Package ambient provides the idle shimmer rendered in the ambient pattern
// slot of strip fixtures.
package ambient

import (
	"fmt"
	"math/rand"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/color"
)

// Options tune the shimmer.
type Options struct {
	// Floor is the darkest level a pixel breathes down to.
	Floor uint8
	// PeriodShift sets the breathing period to 2^PeriodShift ms. The period
	// must divide the 16-bit counter so the wave stays continuous when the
	// clock wraps, hence a shift rather than a duration.
	PeriodShift uint
	// Sparkles is the number of random pixels lit at full value per frame.
	Sparkles int
	// Seed feeds the sparkle generator.
	Seed int64
}

// DefaultOptions give a 4 s breathing period with a couple of sparkles.
var DefaultOptions = Options{Floor: 40, PeriodShift: 12, Sparkles: 2, Seed: 1}

// Shimmer is a slow idle animation: every pixel breathes between Floor and
// the base value on its own phase while a few pixels sparkle.
type Shimmer struct {
	opts Options
	rng  *rand.Rand
}

// New creates a shimmer generator.
func New(opts Options) (*Shimmer, error) {
	if opts.PeriodShift < 8 || opts.PeriodShift > 16 {
		return nil, fmt.Errorf("ambient: period shift %d out of range 8..16", opts.PeriodShift)
	}
	if opts.Sparkles < 0 {
		return nil, fmt.Errorf("ambient: negative sparkle count")
	}
	return &Shimmer{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}, nil
}

// Render fills pixels with base hue and saturation and a per-pixel value.
func (s *Shimmer) Render(pixels []color.HSV, base color.HSV, now clock.Millis) {
	if len(pixels) == 0 {
		return
	}
	floor := s.opts.Floor
	if floor > base.V {
		floor = base.V
	}
	span := base.V - floor
	phase := uint8(uint16(now) >> (s.opts.PeriodShift - 8))

	for i := range pixels {
		// 97 is odd, so neighbouring pixels land far apart on the wave.
		x := phase + uint8(i*97)
		pixels[i] = color.HSV{H: base.H, S: base.S, V: floor + scale8(triangle(x), span)}
	}
	for i := 0; i < s.opts.Sparkles; i++ {
		n := s.rng.Intn(len(pixels))
		pixels[n] = color.HSV{H: base.H, S: base.S / 2, V: base.V}
	}
}

func triangle(x uint8) uint8 {
	if x < 128 {
		return x * 2
	}
	return (255 - x) * 2
}

func scale8(x, f uint8) uint8 {
	return uint8(uint16(x) * (uint16(f) + 1) >> 8)
}
