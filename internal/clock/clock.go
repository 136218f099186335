// Package clock provides the 16-bit wrapping millisecond time base used by
// every animation in flickerd.
//
// All comparisons are done with Since, which relies on unsigned wraparound,
// so a timer overflow in the middle of a step is harmless.
package clock

import (
	"sync"
	"time"
)

// Millis is a wrapping millisecond counter.
type Millis uint16

// Since returns the number of milliseconds from then to now, modulo 2^16.
func Since(then, now Millis) Millis {
	return now - then
}

// Clock is the time source lights and the scheduling loop read from.
type Clock interface {
	// Now returns the current wrapping millisecond count.
	Now() Millis
	// Sleep blocks for d. Used by the deliberately blocking identify sequences
	// and click emulation.
	Sleep(d time.Duration)
}

// System is a Clock backed by the monotonic clock.
type System struct {
	start time.Time
}

// NewSystem creates a system clock whose counter starts at zero.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now implements Clock.
func (s *System) Now() Millis {
	return Millis(time.Since(s.start).Milliseconds())
}

// Sleep implements Clock.
func (s *System) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually driven Clock for tests. Sleep advances the fake time
// instead of blocking.
type Fake struct {
	mu    sync.Mutex
	now   Millis
	slept time.Duration
}

// NewFake creates a fake clock starting at start.
func NewFake(start Millis) *Fake {
	return &Fake{now: start}
}

// Now implements Clock.
func (f *Fake) Now() Millis {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep implements Clock.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += Millis(d.Milliseconds())
	f.slept += d
}

// Advance moves the fake time forward by ms milliseconds.
func (f *Fake) Advance(ms int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += Millis(ms)
}

// Set moves the fake time to an absolute value.
func (f *Fake) Set(now Millis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Slept returns the total duration passed to Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}
