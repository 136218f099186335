package input

import (
	"github.com/dokzlo13/flickerd/internal/clock"
)

// Timing controls event detection. All values are milliseconds.
type Timing struct {
	Debounce    clock.Millis
	Click       clock.Millis
	DoubleClick clock.Millis
	LongPress   clock.Millis
}

// DefaultTiming matches common push button library defaults.
var DefaultTiming = Timing{Debounce: 20, Click: 200, DoubleClick: 400, LongPress: 1000}

// Detector is the event state machine of one button. It is fed raw samples
// and is not safe for concurrent use.
type Detector struct {
	button      Button
	timing      Timing
	doubleClick bool

	stable     bool // debounced level, true when pressed
	raw        bool
	rawSince   clock.Millis
	pressedAt  clock.Millis
	longSent   bool
	lastClick  clock.Millis
	clickArmed bool
}

// NewDetector creates a detector for b. Double clicks are reported only
// when b.DoubleClicks().
func NewDetector(b Button, t Timing) *Detector {
	return &Detector{button: b, timing: t, doubleClick: b.DoubleClicks()}
}

// Sample feeds the raw pressed state at now and appends any resulting
// events to out.
func (d *Detector) Sample(pressed bool, now clock.Millis, out []Event) []Event {
	if pressed != d.raw {
		d.raw = pressed
		d.rawSince = now
	}

	if d.raw != d.stable && clock.Since(d.rawSince, now) >= d.timing.Debounce {
		d.stable = d.raw
		if d.stable {
			d.pressedAt = now
			d.longSent = false
			out = append(out, d.event(Pressed, now))
		} else {
			out = append(out, d.event(Released, now))
			out = d.released(now, out)
		}
	}

	if d.stable && !d.longSent && clock.Since(d.pressedAt, now) >= d.timing.LongPress {
		d.longSent = true
		d.clickArmed = false
		out = append(out, d.event(LongPressed, now))
	}
	return out
}

func (d *Detector) released(now clock.Millis, out []Event) []Event {
	if d.longSent || clock.Since(d.pressedAt, now) > d.timing.Click {
		d.clickArmed = false
		return out
	}
	if !d.doubleClick {
		return append(out, d.event(Clicked, now))
	}
	if d.clickArmed && clock.Since(d.lastClick, now) <= d.timing.DoubleClick {
		d.clickArmed = false
		return append(out, d.event(DoubleClicked, now))
	}
	d.clickArmed = true
	d.lastClick = now
	return append(out, d.event(Clicked, now))
}

func (d *Detector) event(t EventType, now clock.Millis) Event {
	return Event{Button: d.button, Type: t, At: now}
}
