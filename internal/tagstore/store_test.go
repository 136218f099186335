package tagstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/light"
)

var errBus = errors.New("bus error")

// memReader is an in-memory MIFARE Classic 1K behind a reader.
type memReader struct {
	blocks [64][]byte

	authErr  error
	readErr  error
	writeErr error
	haltErr  error

	authCalls []byte
	halts     int
	stops     int
	lastKey   []byte
	lastUID   []byte
}

func (m *memReader) Authenticate(block byte, key []byte, uid []byte) error {
	m.authCalls = append(m.authCalls, block)
	m.lastKey = append([]byte(nil), key...)
	m.lastUID = append([]byte(nil), uid...)
	return m.authErr
}

func (m *memReader) ReadBlock(block byte) ([]byte, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.blocks[block] == nil {
		return make([]byte, BlockSize), nil
	}
	return append([]byte(nil), m.blocks[block]...), nil
}

func (m *memReader) WriteBlock(block byte, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.blocks[block] = append([]byte(nil), data...)
	return nil
}

func (m *memReader) Halt() error {
	m.halts++
	return m.haltErr
}

func (m *memReader) StopCrypto() error {
	m.stops++
	return nil
}

var classicCard = Card{UID: []byte{0x53, 0xAA, 0x95, 0x1A}, Type: "MIFARE 1KB", Classic: true}

func newTestStore(t *testing.T, r Reader) *Store {
	t.Helper()
	s, err := New(r, DefaultLayout, DefaultKey)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLayout_BlockForSlot(t *testing.T) {
	tests := []struct {
		slot int
		want byte
	}{
		{0, 4},
		{1, 5},
		{2, 6},
		{3, 8},
		{5, 10},
		{6, 12},
		{14, 22},
	}
	for _, tt := range tests {
		got, err := DefaultLayout.BlockForSlot(tt.slot)
		if err != nil {
			t.Fatalf("BlockForSlot(%d): %v", tt.slot, err)
		}
		if got != tt.want {
			t.Errorf("BlockForSlot(%d) = %d, want %d", tt.slot, got, tt.want)
		}
		if IsTrailer(got) {
			t.Errorf("slot %d maps to trailer block %d", tt.slot, got)
		}
	}

	for _, slot := range []int{-1, 15} {
		if _, err := DefaultLayout.BlockForSlot(slot); err == nil {
			t.Errorf("BlockForSlot(%d) should fail", slot)
		}
	}
}

func TestLayout_Validate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{name: "default", layout: DefaultLayout},
		{name: "sector_zero", layout: Layout{DataBlockAddr: 0, BlockCount: 3, MaxSlots: 1}, wantErr: true},
		{name: "unaligned", layout: Layout{DataBlockAddr: 5, BlockCount: 3, MaxSlots: 1}, wantErr: true},
		{name: "covers_trailer", layout: Layout{DataBlockAddr: 4, BlockCount: 4, MaxSlots: 1}, wantErr: true},
		{name: "no_slots", layout: Layout{DataBlockAddr: 4, BlockCount: 3}, wantErr: true},
		{name: "overflow", layout: Layout{DataBlockAddr: 4, BlockCount: 1, MaxSlots: 100}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.layout.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrailerBlock(t *testing.T) {
	tests := []struct {
		addr, want byte
	}{
		{0, 3},
		{4, 7},
		{6, 7},
		{7, 7},
		{8, 11},
		{22, 23},
	}
	for _, tt := range tests {
		if got := TrailerBlock(tt.addr); got != tt.want {
			t.Errorf("TrailerBlock(%d) = %d, want %d", tt.addr, got, tt.want)
		}
	}
}

func TestRegistry_Identify(t *testing.T) {
	dup := UID{0xCD, 0x78, 0x9A, 0x4F}
	r := NewRegistry(append(DefaultTags, Tag{UID: dup, Name: "spare"}))

	tests := []struct {
		name string
		uid  UID
		want int
	}{
		{name: "first", uid: UID{0x53, 0xAA, 0x95, 0x1A}, want: 0},
		{name: "last_default", uid: UID{0x0D, 0x79, 0x9A, 0x4F}, want: 4},
		{name: "duplicate_returns_first", uid: dup, want: 2},
		{name: "unknown", uid: UID{0x8D, 0x78, 0x9A, 0x4F}, want: Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Identify(tt.uid); got != tt.want {
				t.Errorf("Identify(%s) = %d, want %d", tt.uid, got, tt.want)
			}
		})
	}

	if tag, ok := r.Lookup(UID{0x4D, 0x79, 0x9A, 0x4F}); !ok || tag.Name != "pink mouse" {
		t.Errorf("Lookup() = %+v, %v", tag, ok)
	}
	if _, ok := r.Lookup(UID{}); ok {
		t.Error("Lookup() found an unknown tag")
	}
}

func TestParseUID(t *testing.T) {
	tests := []struct {
		in      string
		want    UID
		wantErr bool
	}{
		{in: "53AA951A", want: UID{0x53, 0xAA, 0x95, 0x1A}},
		{in: "53 aa 95 1a", want: UID{0x53, 0xAA, 0x95, 0x1A}},
		{in: "57:99:52:C8", want: UID{0x57, 0x99, 0x52, 0xC8}},
		{in: "53AA95", wantErr: true},
		{in: "zz", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseUID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if s := (UID{0x0D, 0x79, 0x9A, 0x4F}).String(); s != "0D799A4F" {
		t.Errorf("String() = %q", s)
	}
}

func TestOpen_RejectsUnsupportedMedium(t *testing.T) {
	s := newTestStore(t, &memReader{})

	tests := []struct {
		name string
		card Card
	}{
		{name: "ultralight", card: Card{UID: []byte{1, 2, 3, 4, 5, 6, 7}, Type: "MIFARE Ultralight"}},
		{name: "classic_long_uid", card: Card{UID: []byte{1, 2, 3, 4, 5, 6, 7}, Classic: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.card); !errors.Is(err, ErrUnsupportedMedium) {
				t.Errorf("Open() err = %v, want ErrUnsupportedMedium", err)
			}
		})
	}
}

func TestOpen_OneSessionAtATime(t *testing.T) {
	s := newTestStore(t, &memReader{})

	sess, err := s.Open(classicCard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(classicCard); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Open() err = %v, want ErrSessionBusy", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("double Close() = %v", err)
	}

	again, err := s.Open(classicCard)
	if err != nil {
		t.Fatalf("Open() after Close: %v", err)
	}
	again.Close()

	if _, err := sess.ReadConfig(4); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadConfig() on closed session err = %v, want ErrClosed", err)
	}
}

func TestDiscard_HaltsAnyCard(t *testing.T) {
	tests := []struct {
		name string
		card Card
	}{
		{name: "classic", card: classicCard},
		{name: "ultralight", card: Card{UID: []byte{1, 2, 3, 4, 5, 6, 7}, Type: "MIFARE Ultralight"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &memReader{}
			s := newTestStore(t, r)
			if err := s.Discard(tt.card); err != nil {
				t.Fatalf("Discard() = %v", err)
			}
			if r.halts != 1 || r.stops != 1 {
				t.Errorf("halts=%d stops=%d, want 1/1", r.halts, r.stops)
			}
			if len(r.authCalls) != 0 {
				t.Errorf("Discard() authenticated blocks %v", r.authCalls)
			}
		})
	}
}

func TestDiscard_RefusedDuringSession(t *testing.T) {
	r := &memReader{}
	s := newTestStore(t, r)
	sess, err := s.Open(classicCard)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Discard(classicCard); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Discard() err = %v, want ErrSessionBusy", err)
	}
	if r.halts != 0 {
		t.Errorf("halts = %d, want 0 while a session is open", r.halts)
	}
	sess.Close()
}

func TestDiscard_RunsBothStepsOnHaltError(t *testing.T) {
	r := &memReader{haltErr: errBus}
	s := newTestStore(t, r)
	if err := s.Discard(classicCard); !errors.Is(err, errBus) {
		t.Errorf("Discard() err = %v, want bus error", err)
	}
	if r.stops != 1 {
		t.Errorf("stops = %d, want 1 even when halt fails", r.stops)
	}
}

func TestSession_AuthenticatesTrailerWithKeyA(t *testing.T) {
	r := &memReader{}
	s := newTestStore(t, r)

	err := s.WithSession(classicCard, func(sess *Session) error {
		if _, err := sess.ReadConfig(6); err != nil {
			return err
		}
		return sess.WriteConfig(8, fixture.Config{PatternID: 1})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.authCalls, []byte{7, 11}) {
		t.Errorf("authenticated blocks %v, want [7 11]", r.authCalls)
	}
	if !bytes.Equal(r.lastKey, DefaultKey[:]) {
		t.Errorf("key = % X, want FF x6", r.lastKey)
	}
	if !bytes.Equal(r.lastUID, classicCard.UID) {
		t.Errorf("uid = % X", r.lastUID)
	}
}

func TestSession_TeardownAfterFailure(t *testing.T) {
	tests := []struct {
		name    string
		reader  *memReader
		op      func(*Session) error
		wantErr error
		notErr  error
	}{
		{
			name:    "auth_failure_on_read",
			reader:  &memReader{authErr: errBus},
			op:      func(s *Session) error { _, err := s.ReadConfig(4); return err },
			wantErr: ErrAuthentication,
			notErr:  ErrStorageIO,
		},
		{
			name:    "read_failure",
			reader:  &memReader{readErr: errBus},
			op:      func(s *Session) error { _, err := s.ReadConfig(4); return err },
			wantErr: ErrStorageIO,
			notErr:  ErrAuthentication,
		},
		{
			name:    "write_failure",
			reader:  &memReader{writeErr: errBus},
			op:      func(s *Session) error { return s.WriteConfig(4, fixture.Config{}) },
			wantErr: ErrStorageIO,
			notErr:  ErrAuthentication,
		},
		{
			name:    "auth_failure_on_write",
			reader:  &memReader{authErr: errBus},
			op:      func(s *Session) error { return s.WriteConfig(4, fixture.Config{}) },
			wantErr: ErrAuthentication,
			notErr:  ErrStorageIO,
		},
		{
			name:    "trailer_write_refused",
			reader:  &memReader{},
			op:      func(s *Session) error { return s.WriteBlock(7, []byte{1}) },
			wantErr: ErrStorageIO,
			notErr:  ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.reader)
			err := s.WithSession(classicCard, tt.op)

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(err, tt.notErr) {
				t.Errorf("err = %v also matches %v", err, tt.notErr)
			}
			if tt.reader.halts != 1 || tt.reader.stops != 1 {
				t.Errorf("halts=%d stops=%d, want 1/1", tt.reader.halts, tt.reader.stops)
			}
			if _, err := s.Open(classicCard); err != nil {
				t.Errorf("store not released after failure: %v", err)
			}
		})
	}
}

func TestSession_CauseIsKept(t *testing.T) {
	s := newTestStore(t, &memReader{readErr: errBus})
	err := s.WithSession(classicCard, func(sess *Session) error {
		_, err := sess.ReadBlock(4)
		return err
	})
	if !errors.Is(err, errBus) {
		t.Errorf("err = %v, want wrapped bus error", err)
	}
}

func TestSession_CloseRunsBothStepsOnHaltError(t *testing.T) {
	r := &memReader{haltErr: errBus}
	s := newTestStore(t, r)

	err := s.WithSession(classicCard, func(*Session) error { return nil })
	if !errors.Is(err, errBus) {
		t.Errorf("WithSession() err = %v, want halt error", err)
	}
	if r.stops != 1 {
		t.Errorf("stops = %d, want 1 even when halt fails", r.stops)
	}

	opErr := errors.New("op failed")
	err = s.WithSession(classicCard, func(*Session) error { return opErr })
	if !errors.Is(err, opErr) {
		t.Errorf("WithSession() err = %v, want the operation error to win", err)
	}
}

func TestWriteConfig_PacksAndPads(t *testing.T) {
	r := &memReader{}
	s := newTestStore(t, r)

	cfg := fixture.Config{CycleColor: true, PatternID: 3, Hue: 0xAB, Saturation: 0xCD}
	if err := s.WithSession(classicCard, func(sess *Session) error {
		return sess.WriteConfig(5, cfg)
	}); err != nil {
		t.Fatal(err)
	}

	want := make([]byte, BlockSize)
	want[0], want[1], want[2] = 0x07, 0xAB, 0xCD
	if !bytes.Equal(r.blocks[5], want) {
		t.Errorf("block 5 = % X, want % X", r.blocks[5], want)
	}
}

func TestWriteConfig_RejectsWidePatternID(t *testing.T) {
	r := &memReader{}
	s := newTestStore(t, r)
	err := s.WithSession(classicCard, func(sess *Session) error {
		return sess.WriteConfig(4, fixture.Config{PatternID: 200})
	})
	if !errors.Is(err, fixture.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	if r.blocks[4] != nil {
		t.Error("invalid config reached the tag")
	}
}

func TestEndToEnd_SaveAndLoadIntoFreshLight(t *testing.T) {
	r := &memReader{}
	s := newTestStore(t, r)
	clk := clock.NewFake(0)

	src := light.NewPWM("flood", clk, discardLevel{})
	src.Restore(fixture.Config{PatternID: 2, Hue: 40, Saturation: 255, CycleColor: false})

	addr, err := s.Layout().BlockForSlot(0)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 4 {
		t.Fatalf("slot 0 block = %d, want 4", addr)
	}
	if err := s.WithSession(classicCard, func(sess *Session) error {
		return sess.WriteConfig(addr, src.Snapshot())
	}); err != nil {
		t.Fatal(err)
	}

	dst := light.NewPWM("flood", clk, discardLevel{})
	if err := s.WithSession(classicCard, func(sess *Session) error {
		cfg, err := sess.ReadConfig(addr)
		if err != nil {
			return err
		}
		if clamped := dst.Restore(cfg); clamped {
			t.Error("config was clamped")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if got, want := dst.Snapshot(), src.Snapshot(); got != want {
		t.Errorf("loaded %+v, want %+v", got, want)
	}
	if dst.Settings() != src.Settings() || dst.SelectedPattern() != 2 {
		t.Errorf("observable state differs: %+v pattern %d", dst.Settings(), dst.SelectedPattern())
	}
}

type discardLevel struct{}

func (discardLevel) Set(uint8) error { return nil }

func TestParseKey(t *testing.T) {
	k, err := ParseKey("FF:FF:FF:FF:FF:FF")
	if err != nil || k != DefaultKey {
		t.Errorf("ParseKey() = %X, %v", k, err)
	}
	k, err = ParseKey("a0a1a2a3a4a5")
	if err != nil || k != (Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}) {
		t.Errorf("ParseKey() = %X, %v", k, err)
	}
	for _, bad := range []string{"", "FFFF", "zz", "FFFFFFFFFFFFFF"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) succeeded", bad)
		}
	}
}
