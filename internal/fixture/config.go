// Package fixture defines the persisted per-fixture configuration and its
// 3-byte tag encoding.
package fixture

import (
	"errors"
	"fmt"
)

// EncodedSize is the packed size of a Config.
const EncodedSize = 3

// MaxPatternID is the largest pattern id the 7-bit field can hold.
const MaxPatternID = 127

// ErrInvalidConfig reports a decoded config that does not fit the target
// fixture, such as a pattern id beyond its pattern count.
var ErrInvalidConfig = errors.New("invalid fixture config")

// Config is what a tag stores for one fixture. Brightness is never stored; it
// is derived from the pattern at runtime.
type Config struct {
	CycleColor bool  `json:"cycle_color"`
	PatternID  uint8 `json:"pattern_id"`
	Hue        uint8 `json:"hue"`
	Saturation uint8 `json:"saturation"`
}

// MarshalBinary packs c as
//
//	byte 0: bit 0 cycle color, bits 1-7 pattern id
//	byte 1: hue
//	byte 2: saturation
func (c Config) MarshalBinary() ([]byte, error) {
	if c.PatternID > MaxPatternID {
		return nil, fmt.Errorf("%w: pattern id %d exceeds %d", ErrInvalidConfig, c.PatternID, MaxPatternID)
	}
	var b0 byte
	if c.CycleColor {
		b0 = 1
	}
	b0 |= c.PatternID << 1
	return []byte{b0, c.Hue, c.Saturation}, nil
}

// UnmarshalBinary decodes the first EncodedSize bytes of data. Trailing
// padding is ignored.
func (c *Config) UnmarshalBinary(data []byte) error {
	if len(data) < EncodedSize {
		return fmt.Errorf("fixture config: need %d bytes, got %d", EncodedSize, len(data))
	}
	c.CycleColor = data[0]&1 != 0
	c.PatternID = data[0] >> 1
	c.Hue = data[1]
	c.Saturation = data[2]
	return nil
}

// Validate checks c against a fixture with patternCount patterns.
func (c Config) Validate(patternCount int) error {
	if int(c.PatternID) >= patternCount {
		return fmt.Errorf("%w: pattern id %d, fixture has %d patterns", ErrInvalidConfig, c.PatternID, patternCount)
	}
	return nil
}

// Clamp returns c with the pattern id forced into [0, patternCount).
func (c Config) Clamp(patternCount int) Config {
	if patternCount <= 0 {
		c.PatternID = 0
	} else if int(c.PatternID) >= patternCount {
		c.PatternID = uint8(patternCount - 1)
	}
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("pattern=%d hue=%d sat=%d cycle=%v", c.PatternID, c.Hue, c.Saturation, c.CycleColor)
}
