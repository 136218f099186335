// Package output implements the hardware back-ends lights write to, on top of
// periph.io.
package output

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"

	"github.com/dokzlo13/flickerd/internal/color"
)

// WS2812Speed is the SPI clock nrzled needs: four SPI bits per data bit at
// the 800 kHz WS2812 rate.
const WS2812Speed = 2500 * physic.KiloHertz

// WS2812 drives a WS2812 strip from the MOSI line of an SPI port.
type WS2812 struct {
	dev        *nrzled.Dev
	leds       int
	brightness uint8
	buf        []byte
}

// NewWS2812 connects a strip of leds pixels to p. brightness caps the value
// channel of every pixel.
func NewWS2812(p spi.Port, leds int, brightness uint8) (*WS2812, error) {
	dev, err := nrzled.NewSPI(p, &nrzled.Opts{
		NumPixels: leds,
		Channels:  3,
		Freq:      WS2812Speed,
	})
	if err != nil {
		return nil, err
	}
	return &WS2812{dev: dev, leds: leds, brightness: brightness}, nil
}

// OpenWS2812 opens the named SPI port for a strip of leds pixels. The returned
// closer blanks the strip and releases the port.
func OpenWS2812(port string, leds int, brightness uint8) (*WS2812, io.Closer, error) {
	p, err := spireg.Open(port)
	if err != nil {
		return nil, nil, fmt.Errorf("open spi port %q: %w", port, err)
	}
	w, err := NewWS2812(p, leds, brightness)
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("connect spi port %q: %w", port, err)
	}
	return w, stripCloser{w: w, p: p}, nil
}

// Show scales pixels by the brightness cap and transmits them. Pixels past
// the strip length are dropped.
func (w *WS2812) Show(pixels []color.HSV) error {
	if len(pixels) > w.leds {
		pixels = pixels[:w.leds]
	}
	n := len(pixels) * 3
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	w.buf = w.buf[:n]

	for i, px := range pixels {
		px.V = uint8(uint16(px.V) * (uint16(w.brightness) + 1) >> 8)
		rgb := px.ToRGB()
		w.buf[i*3], w.buf[i*3+1], w.buf[i*3+2] = rgb.R, rgb.G, rgb.B
	}
	_, err := w.dev.Write(w.buf)
	return err
}

// Halt turns every pixel off.
func (w *WS2812) Halt() error {
	return w.dev.Halt()
}

type stripCloser struct {
	w *WS2812
	p spi.PortCloser
}

func (c stripCloser) Close() error {
	herr := c.w.Halt()
	if err := c.p.Close(); err != nil {
		return err
	}
	return herr
}
