// Package tagstore persists fixture configurations on MIFARE Classic tags.
//
// Each fixture slot owns one 16-byte data block. A block is read or written
// only after authenticating its sector trailer with key A, and every access
// happens inside a Session whose Close halts the tag and stops the reader's
// crypto unit. Skipping that teardown leaves the tag unusable until it is
// removed from the field.
package tagstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/fixture"
)

var (
	// ErrAuthentication means the sector key was rejected.
	ErrAuthentication = errors.New("tag authentication failed")
	// ErrStorageIO means a block read or write failed at protocol level.
	ErrStorageIO = errors.New("tag storage i/o failed")
	// ErrUnsupportedMedium means the tag is not a MIFARE Classic card.
	ErrUnsupportedMedium = errors.New("unsupported tag medium")
	// ErrSessionBusy means another session is still open.
	ErrSessionBusy = errors.New("tag session already open")
	// ErrClosed means the session was already closed.
	ErrClosed = errors.New("tag session closed")
)

// BlockSize is the size of a MIFARE Classic data block.
const BlockSize = 16

// Key is a 6-byte MIFARE sector key.
type Key [6]byte

// DefaultKey is the factory transport key.
var DefaultKey = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseKey parses 12 hex digits, optionally separated like a UID.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := parseHex(s)
	if err != nil {
		return k, fmt.Errorf("parse key: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("parse key: need %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Reader is the tag reader a Store talks through.
type Reader interface {
	Authenticate(block byte, key []byte, uid []byte) error
	ReadBlock(block byte) ([]byte, error)
	WriteBlock(block byte, data []byte) error
	Halt() error
	StopCrypto() error
}

// Card is a selected card in the field.
type Card struct {
	UID []byte
	// Type is a display name of the card family.
	Type string
	// Classic reports MIFARE Classic (Mini, 1K or 4K).
	Classic bool
}

// Store owns the reader and hands out one Session at a time.
type Store struct {
	reader Reader
	key    Key
	layout Layout

	mu   sync.Mutex
	busy bool
}

// New creates a store. The layout is validated.
func New(reader Reader, layout Layout, key Key) (*Store, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &Store{reader: reader, key: key, layout: layout}, nil
}

// Layout returns the slot layout.
func (s *Store) Layout() Layout {
	return s.layout
}

// Open starts a session on card.
func (s *Store) Open(card Card) (*Session, error) {
	if !card.Classic {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedium, card.Type)
	}
	uid, ok := UIDFromBytes(card.UID)
	if !ok {
		return nil, fmt.Errorf("%w: %d-byte uid", ErrUnsupportedMedium, len(card.UID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrSessionBusy
	}
	s.busy = true
	return &Session{store: s, uid: uid, raw: card.UID}, nil
}

// WithSession opens a session on card, runs fn and always closes the
// session. A Close error is returned only when fn succeeded.
func (s *Store) WithSession(card Card, fn func(*Session) error) (err error) {
	sess, err := s.Open(card)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(sess)
}

// Discard halts a card no session is opened on, so it stays silent until
// it leaves the field. Both steps always run; the first error is returned.
func (s *Store) Discard(card Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	herr := s.reader.Halt()
	serr := s.reader.StopCrypto()
	if herr != nil {
		return fmt.Errorf("halt tag %X: %w", card.UID, herr)
	}
	if serr != nil {
		return fmt.Errorf("stop crypto: %w", serr)
	}
	return nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Session is exclusive access to one card.
type Session struct {
	store  *Store
	uid    UID
	raw    []byte
	closed bool
}

// UID is the card identity.
func (s *Session) UID() UID {
	return s.uid
}

// ReadBlock authenticates the sector of addr and reads the block.
func (s *Session) ReadBlock(addr byte) ([]byte, error) {
	if err := s.auth(addr); err != nil {
		return nil, err
	}
	data, err := s.store.reader.ReadBlock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: read block %d: %w", ErrStorageIO, addr, err)
	}
	return data, nil
}

// WriteBlock authenticates the sector of addr and writes data, zero padded
// to a full block. Sector trailers and the manufacturer block are refused.
func (s *Session) WriteBlock(addr byte, data []byte) error {
	if addr == 0 || IsTrailer(addr) {
		return fmt.Errorf("%w: block %d is not a data block", ErrStorageIO, addr)
	}
	if len(data) > BlockSize {
		return fmt.Errorf("%w: %d bytes do not fit a block", ErrStorageIO, len(data))
	}
	if err := s.auth(addr); err != nil {
		return err
	}
	block := make([]byte, BlockSize)
	copy(block, data)
	if err := s.store.reader.WriteBlock(addr, block); err != nil {
		return fmt.Errorf("%w: write block %d: %w", ErrStorageIO, addr, err)
	}
	return nil
}

// ReadConfig loads the fixture configuration stored at addr. The pattern id
// is not range checked; that is up to the light that restores it.
func (s *Session) ReadConfig(addr byte) (fixture.Config, error) {
	data, err := s.ReadBlock(addr)
	if err != nil {
		return fixture.Config{}, err
	}
	var cfg fixture.Config
	if err := cfg.UnmarshalBinary(data); err != nil {
		return fixture.Config{}, err
	}
	log.Debug().Str("uid", s.uid.String()).Uint8("block", addr).Str("config", cfg.String()).Msg("Read fixture config from tag")
	return cfg, nil
}

// WriteConfig stores cfg at addr.
func (s *Session) WriteConfig(addr byte, cfg fixture.Config) error {
	data, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.WriteBlock(addr, data); err != nil {
		return err
	}
	log.Debug().Str("uid", s.uid.String()).Uint8("block", addr).Str("config", cfg.String()).Msg("Wrote fixture config to tag")
	return nil
}

// Close halts the card and stops crypto. Both steps always run; the first
// error is returned. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.store.release()

	herr := s.store.reader.Halt()
	serr := s.store.reader.StopCrypto()
	if herr != nil {
		return fmt.Errorf("halt tag %s: %w", s.uid, herr)
	}
	if serr != nil {
		return fmt.Errorf("stop crypto: %w", serr)
	}
	return nil
}

func (s *Session) auth(addr byte) error {
	if s.closed {
		return ErrClosed
	}
	trailer := TrailerBlock(addr)
	if err := s.store.reader.Authenticate(trailer, s.store.key[:], s.raw); err != nil {
		return fmt.Errorf("%w: sector trailer %d: %w", ErrAuthentication, trailer, err)
	}
	return nil
}
