package app

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/config"
	"github.com/dokzlo13/flickerd/internal/output"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

// TagTool gives the command line direct access to the tag reader without
// starting any fixture.
type TagTool struct {
	Store    *tagstore.Store
	Registry *tagstore.Registry
	reader   *RFIDReader
	closer   io.Closer
}

// OpenTagTool initializes the host and the reader only.
func OpenTagTool(cfg *config.Config) (*TagTool, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	r, closer, err := openReader(cfg, output.LookupPin)
	if err != nil {
		return nil, err
	}
	store, err := NewTagStore(cfg, r)
	if err != nil {
		closer.Close()
		return nil, err
	}
	registry, err := NewRegistry(cfg)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &TagTool{Store: store, Registry: registry, reader: r, closer: closer}, nil
}

// WaitCard polls the reader every interval until a card is presented or ctx
// is done.
func (t *TagTool) WaitCard(ctx context.Context, interval time.Duration) (tagstore.Card, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Msg("Waiting for a tag")
	for {
		card, ok, err := t.reader.Detect()
		if err != nil {
			log.Debug().Err(err).Msg("Detect failed")
		}
		if ok {
			return card, nil
		}
		select {
		case <-ctx.Done():
			return tagstore.Card{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the reader.
func (t *TagTool) Close() error {
	return t.closer.Close()
}
