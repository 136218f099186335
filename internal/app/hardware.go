package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/flickerd/internal/ambient"
	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/config"
	"github.com/dokzlo13/flickerd/internal/input"
	"github.com/dokzlo13/flickerd/internal/light"
	"github.com/dokzlo13/flickerd/internal/output"
	"github.com/dokzlo13/flickerd/internal/rfid/mfrc522"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

// Hardware owns every opened bus and pin. In dry-run mode outputs are
// replaced by loggers and no tag reader or buttons are attached.
type Hardware struct {
	cfg     *config.Config
	clk     clock.Clock
	lookup  func(string) (gpio.PinIO, error)
	closers []io.Closer

	Lights  []light.Light
	Reader  *RFIDReader
	Buttons []input.Source
}

// NewHardware initializes the host drivers and builds every fixture from
// config. On error everything opened so far is closed.
func NewHardware(cfg *config.Config, clk clock.Clock) (*Hardware, error) {
	h := &Hardware{cfg: cfg, clk: clk, lookup: output.LookupPin}

	if !cfg.Hardware.DryRun {
		if err := initHost(); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("Dry run: outputs are logged, no tag reader or buttons")
	}

	if err := h.build(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Hardware) build() error {
	shimmer, err := ambient.New(ambient.Options{
		Floor:       uint8(h.cfg.Ambient.Floor),
		PeriodShift: uint(h.cfg.Ambient.PeriodShift),
		Sparkles:    h.cfg.Ambient.Sparkles,
		Seed:        h.cfg.Ambient.Seed,
	})
	if err != nil {
		return err
	}

	for _, fc := range h.cfg.Fixtures {
		l, err := h.fixture(fc, shimmer)
		if err != nil {
			return fmt.Errorf("fixture %q: %w", fc.Name, err)
		}
		h.Lights = append(h.Lights, l)
		log.Info().Str("fixture", fc.Name).Str("kind", fc.Kind).Msg("Fixture configured")
	}

	if h.cfg.Hardware.DryRun {
		return nil
	}

	for name, pin := range h.cfg.Buttons.Pins() {
		b, err := input.ParseButton(name)
		if err != nil {
			return err
		}
		p, err := h.lookup(pin)
		if err != nil {
			return fmt.Errorf("button %s: %w", name, err)
		}
		h.Buttons = append(h.Buttons, input.Source{Button: b, Pin: p})
	}

	if h.cfg.RFID.IsEnabled() {
		r, closer, err := openReader(h.cfg, h.lookup)
		if err != nil {
			return err
		}
		h.closers = append(h.closers, closer)
		h.Reader = r
	}
	return nil
}

func initHost() error {
	state, err := host.Init()
	if err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	for _, d := range state.Loaded {
		log.Debug().Str("driver", d.String()).Msg("Host driver loaded")
	}
	for _, f := range state.Failed {
		log.Warn().Err(f.Err).Str("driver", f.D.String()).Msg("Host driver failed")
	}
	return nil
}

func openReader(cfg *config.Config, lookup func(string) (gpio.PinIO, error)) (*RFIDReader, io.Closer, error) {
	dev, closer, err := mfrc522.Open(cfg.RFID.Port, cfg.RFID.ResetPin, lookup)
	if err != nil {
		return nil, nil, fmt.Errorf("tag reader: %w", err)
	}
	if v, err := dev.Version(); err == nil {
		log.Info().Str("port", cfg.RFID.Port).Hex("version", []byte{v}).Msg("Tag reader ready")
	}
	return &RFIDReader{Dev: dev}, closer, nil
}

// NewTagStore builds the tag store over r from the configured layout and key.
func NewTagStore(cfg *config.Config, r tagstore.Reader) (*tagstore.Store, error) {
	key, err := tagstore.ParseKey(cfg.RFID.Key)
	if err != nil {
		return nil, err
	}
	layout := tagstore.Layout{
		DataBlockAddr: cfg.RFID.DataBlock,
		BlockCount:    cfg.RFID.BlockCount,
		MaxSlots:      cfg.RFID.MaxSlots,
	}
	return tagstore.New(r, layout, key)
}

// NewRegistry builds the known tag list. Without configured tags the
// shipped defaults are used.
func NewRegistry(cfg *config.Config) (*tagstore.Registry, error) {
	if len(cfg.Tags) == 0 {
		return tagstore.NewRegistry(tagstore.DefaultTags), nil
	}
	tags := make([]tagstore.Tag, 0, len(cfg.Tags))
	for _, tc := range cfg.Tags {
		uid, err := tagstore.ParseUID(tc.UID)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tagstore.Tag{UID: uid, Name: tc.Name})
	}
	return tagstore.NewRegistry(tags), nil
}

func (h *Hardware) fixture(fc config.FixtureConfig, amb light.Ambient) (light.Light, error) {
	switch fc.Kind {
	case config.KindStrip:
		specs := make([]light.StripSpec, 0, len(fc.Strips))
		for _, sc := range fc.Strips {
			// A mirror shows the first strip's buffer.
			leds := sc.Leds
			if leds <= 0 {
				leds = fc.Strips[0].Leds
			}
			out, err := h.pixelOutput(fc.Name, sc.Port, leds)
			if err != nil {
				return nil, err
			}
			specs = append(specs, light.StripSpec{Output: out, Length: sc.Leds})
		}
		return light.NewStrip(fc.Name, h.clk, amb, specs...)

	case config.KindPWM:
		if h.cfg.Hardware.DryRun {
			return light.NewPWM(fc.Name, h.clk, output.Null{Name: fc.Name}), nil
		}
		pin, err := h.lookup(fc.Pin)
		if err != nil {
			return nil, err
		}
		freq := physic.Frequency(fc.Frequency) * physic.Hertz
		return light.NewPWM(fc.Name, h.clk, output.NewPWM(pin, freq)), nil

	case config.KindDigital:
		var out light.LevelOutput = output.Null{Name: fc.Name}
		if !h.cfg.Hardware.DryRun {
			pin, err := h.lookup(fc.Pin)
			if err != nil {
				return nil, err
			}
			out = output.NewDigital(pin, fc.ActiveLow)
		}
		return light.NewDigital(fc.Name, h.clk, out, h.cfg.Hardware.AllowUnsupported)

	case config.KindFairy:
		var out light.ButtonOutput = output.Null{Name: fc.Name}
		if !h.cfg.Hardware.DryRun {
			pin, err := h.lookup(fc.Pin)
			if err != nil {
				return nil, err
			}
			out = output.NewClick(pin)
		}
		return light.NewFairyLights(fc.Name, h.clk, out, light.FairyOptions{
			Patterns: uint8(fc.Patterns),
			Off:      uint8(fc.Off),
			On:       uint8(fc.On),
		})
	}
	return nil, fmt.Errorf("unknown kind %q", fc.Kind)
}

func (h *Hardware) pixelOutput(name, port string, leds int) (light.PixelOutput, error) {
	if h.cfg.Hardware.DryRun {
		return output.Null{Name: name + "@" + port}, nil
	}
	out, closer, err := output.OpenWS2812(port, leds, uint8(h.cfg.Hardware.Brightness))
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, closer)
	return out, nil
}

// Close releases every opened port.
func (h *Hardware) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close hardware port")
		}
	}
	h.closers = nil
}

// RFIDReader adapts the MFRC522 driver to the tag store and the loop.
type RFIDReader struct {
	*mfrc522.Dev
}

var _ tagstore.Reader = (*RFIDReader)(nil)

// Detect reports a newly presented card. Halted cards stay silent until
// they leave the field, so a card is reported once per presentation.
func (r *RFIDReader) Detect() (tagstore.Card, bool, error) {
	c, err := r.Dev.Detect()
	if errors.Is(err, mfrc522.ErrNoCard) {
		return tagstore.Card{}, false, nil
	}
	if err != nil {
		return tagstore.Card{}, false, err
	}
	return tagstore.Card{UID: c.UID, Type: c.Type.String(), Classic: c.Type.Classic()}, true, nil
}
