// Package flicker turns a step pattern and elapsed time into a brightness.
//
// A pattern advances one step every StepDuration. Within a step the output
// blends toward the next step only when that next step is soft; hard steps cut
// in at the boundary. Patterns never finish; switching pattern restarts at
// step zero.
package flicker

import "github.com/dokzlo13/flickerd/internal/clock"

// StepDuration is the length of one pattern step in milliseconds.
const StepDuration clock.Millis = 100

// Cursor is the caller-held animation state for one fixture.
type Cursor struct {
	// Anchor is the time the current step started.
	Anchor clock.Millis
	// PrevPattern is the pattern id used on the previous call.
	PrevPattern int
	// Step is the index of the current step.
	Step int
}

// Reset points the cursor at step zero of pattern id, starting at now.
func (c *Cursor) Reset(now clock.Millis, id int) {
	c.Anchor = now
	c.PrevPattern = id
	c.Step = 0
}

// Advance returns the level for pattern id at time now and moves cur forward
// when a step boundary is reached. Out of range ids render as off.
func Advance(now clock.Millis, cur *Cursor, id int) uint8 {
	p, ok := Lookup(id)
	if !ok {
		return 0
	}

	if cur.PrevPattern != id {
		cur.Reset(now, id)
	}
	if cur.Step >= len(p.Steps) {
		cur.Step = 0
	}

	elapsed := clock.Since(cur.Anchor, now)
	if elapsed > StepDuration {
		elapsed = StepDuration
	}

	value, _ := step(p.Steps[cur.Step])
	next, soft := step(p.Steps[(cur.Step+1)%len(p.Steps)])

	out := value
	if soft {
		out = lerp8(value, next, uint8(uint16(elapsed)*255/uint16(StepDuration)))
	}

	if elapsed >= StepDuration {
		cur.Step = (cur.Step + 1) % len(p.Steps)
		cur.Anchor = now
	}

	return out
}

// scale8 scales x by frac/256 such that frac 255 returns x unchanged.
func scale8(x, frac uint8) uint8 {
	return uint8((uint16(x) * (uint16(frac) + 1)) >> 8)
}

// lerp8 blends a toward b by frac/255.
func lerp8(a, b, frac uint8) uint8 {
	if b >= a {
		return a + scale8(b-a, frac)
	}
	return a - scale8(a-b, frac)
}
