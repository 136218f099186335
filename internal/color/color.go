// Package color holds the 8-bit hue/saturation/value pixel type.
package color

// HSV is one pixel. Hue is a full 8-bit wheel: 255 wraps back to red at 0.
type HSV struct {
	H, S, V uint8
}

// RGB is an 8-bit per channel color.
type RGB struct {
	R, G, B uint8
}

// White is full value with no saturation.
var White = HSV{H: 0, S: 0, V: 255}

// Black is off.
var Black = HSV{}

// Fill sets every pixel of buf to c.
func Fill(buf []HSV, c HSV) {
	for i := range buf {
		buf[i] = c
	}
}

// ToRGB converts using six 43-step hue sectors. This is an approximation;
// no gamma or white-point correction is applied.
func (c HSV) ToRGB() RGB {
	if c.S == 0 {
		return RGB{c.V, c.V, c.V}
	}

	region := c.H / 43
	remainder := uint16(c.H-region*43) * 6

	v := uint16(c.V)
	s := uint16(c.S)
	p := uint8((v * (255 - s)) >> 8)
	q := uint8((v * (255 - ((s * remainder) >> 8))) >> 8)
	t := uint8((v * (255 - ((s * (255 - remainder)) >> 8))) >> 8)

	switch region {
	case 0:
		return RGB{c.V, t, p}
	case 1:
		return RGB{q, c.V, p}
	case 2:
		return RGB{p, c.V, t}
	case 3:
		return RGB{p, q, c.V}
	case 4:
		return RGB{t, p, c.V}
	default:
		return RGB{c.V, p, q}
	}
}
