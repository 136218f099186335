package output

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// DefaultPWMFrequency is used when a PWM output is configured without one.
const DefaultPWMFrequency = 1 * physic.KiloHertz

// LookupPin resolves a GPIO pin by name, e.g. "GPIO18".
func LookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// PWM drives an 8-bit level as a PWM duty cycle.
type PWM struct {
	pin  gpio.PinOut
	freq physic.Frequency
}

// NewPWM creates a PWM output. A zero freq selects DefaultPWMFrequency.
func NewPWM(pin gpio.PinOut, freq physic.Frequency) *PWM {
	if freq == 0 {
		freq = DefaultPWMFrequency
	}
	return &PWM{pin: pin, freq: freq}
}

// Set maps level 0..255 onto 0..DutyMax.
func (p *PWM) Set(level uint8) error {
	return p.pin.PWM(LevelDuty(level), p.freq)
}

// LevelDuty converts an 8-bit level to a duty cycle.
func LevelDuty(level uint8) gpio.Duty {
	return gpio.Duty(int64(level) * int64(gpio.DutyMax) / 255)
}

// Digital drives an on/off fixture. Levels of 128 and above are on.
type Digital struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewDigital creates a digital output.
func NewDigital(pin gpio.PinOut, activeLow bool) *Digital {
	return &Digital{pin: pin, activeLow: activeLow}
}

func (d *Digital) Set(level uint8) error {
	on := level >= 128
	return d.pin.Out(gpio.Level(on != d.activeLow))
}

// Click emulates a push button on an external controller: the line idles
// high and is pulled low while pressed.
type Click struct {
	pin gpio.PinOut
}

// NewClick creates a click output.
func NewClick(pin gpio.PinOut) *Click {
	return &Click{pin: pin}
}

func (c *Click) Press() error {
	return c.pin.Out(gpio.Low)
}

func (c *Click) Release() error {
	return c.pin.Out(gpio.High)
}
