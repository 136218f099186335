package output

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/color"
)

// Null accepts every write and logs it at trace level. It stands in for real
// hardware in dry-run mode.
type Null struct {
	Name string
}

func (n Null) Show(pixels []color.HSV) error {
	if len(pixels) > 0 {
		log.Trace().Str("output", n.Name).Int("pixels", len(pixels)).Uint8("v", pixels[0].V).Msg("show")
	}
	return nil
}

func (n Null) Set(level uint8) error {
	log.Trace().Str("output", n.Name).Uint8("level", level).Msg("set")
	return nil
}

func (n Null) Press() error {
	log.Trace().Str("output", n.Name).Msg("press")
	return nil
}

func (n Null) Release() error {
	log.Trace().Str("output", n.Name).Msg("release")
	return nil
}
