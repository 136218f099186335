package bank

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dokzlo13/flickerd/internal/clock"
	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/input"
	"github.com/dokzlo13/flickerd/internal/ledger"
	"github.com/dokzlo13/flickerd/internal/light"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

type nopLevel struct{}

func (nopLevel) Set(uint8) error { return nil }

// cardReader is a single in-memory MIFARE Classic 1K card.
type cardReader struct {
	blocks  [64][]byte
	authErr error
	haltErr error
	halts   int
	stops   int
}

func (c *cardReader) Authenticate(byte, []byte, []byte) error { return c.authErr }

func (c *cardReader) ReadBlock(block byte) ([]byte, error) {
	if c.blocks[block] == nil {
		return make([]byte, tagstore.BlockSize), nil
	}
	return append([]byte(nil), c.blocks[block]...), nil
}

func (c *cardReader) WriteBlock(block byte, data []byte) error {
	c.blocks[block] = append([]byte(nil), data...)
	return nil
}

func (c *cardReader) Halt() error       { c.halts++; return c.haltErr }
func (c *cardReader) StopCrypto() error { c.stops++; return nil }

type memLedger struct {
	entries []ledger.Entry
}

func (m *memLedger) Append(e ledger.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) last() ledger.Entry {
	if len(m.entries) == 0 {
		return ledger.Entry{}
	}
	return m.entries[len(m.entries)-1]
}

type memState struct {
	cfgs map[string]fixture.Config
	sets int
}

func newMemState() *memState {
	return &memState{cfgs: make(map[string]fixture.Config)}
}

func (m *memState) Get(name string) (fixture.Config, int64, error) {
	cfg, ok := m.cfgs[name]
	if !ok {
		return fixture.Config{}, 0, nil
	}
	return cfg, 1, nil
}

func (m *memState) Set(name string, cfg fixture.Config) error {
	m.cfgs[name] = cfg
	m.sets++
	return nil
}

var (
	blueUID  = []byte{0x57, 0x99, 0x52, 0xC8}
	blueCard = tagstore.Card{UID: blueUID, Type: "MIFARE 1KB", Classic: true}
)

type fixtureSet struct {
	bank   *Bank
	clk    *clock.Fake
	lights []*light.PWMLight
	reader *cardReader
	ledger *memLedger
	state  *memState
}

func newFixtureSet(t *testing.T, n int) *fixtureSet {
	t.Helper()
	fs := &fixtureSet{
		clk:    clock.NewFake(0),
		reader: &cardReader{},
		ledger: &memLedger{},
		state:  newMemState(),
	}
	var lights []light.Light
	for i := 0; i < n; i++ {
		l := light.NewPWM(fmt.Sprintf("flood-%d", i), fs.clk, nopLevel{})
		fs.lights = append(fs.lights, l)
		lights = append(lights, l)
	}
	store, err := tagstore.New(fs.reader, tagstore.DefaultLayout, tagstore.DefaultKey)
	if err != nil {
		t.Fatal(err)
	}
	fs.bank, err = New(lights, Options{
		Tags:     store,
		Registry: tagstore.NewRegistry(tagstore.DefaultTags),
		Ledger:   fs.ledger,
		State:    fs.state,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.bank.Setup(); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestNew_Validation(t *testing.T) {
	clk := clock.NewFake(0)
	pwm := func(name string) light.Light { return light.NewPWM(name, clk, nopLevel{}) }

	tooMany := make([]light.Light, tagstore.DefaultLayout.MaxSlots+1)
	for i := range tooMany {
		tooMany[i] = pwm(fmt.Sprintf("l%d", i))
	}

	tests := []struct {
		name   string
		lights []light.Light
	}{
		{"empty", nil},
		{"duplicate names", []light.Light{pwm("a"), pwm("a")}},
		{"more fixtures than slots", tooMany},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.lights, Options{}); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestSelectNext_WrapsWithoutTouchingLights(t *testing.T) {
	fs := newFixtureSet(t, 3)
	before := fs.bank.Status().Fixtures

	want := []int{1, 2, 0, 1}
	for i, w := range want {
		if got := fs.bank.SelectNext(); got != w {
			t.Fatalf("SelectNext() #%d = %d, want %d", i, got, w)
		}
	}
	after := fs.bank.Status().Fixtures
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("fixture %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if fs.state.sets != 0 {
		t.Errorf("selection stored state %d times", fs.state.sets)
	}
}

func TestMutations_OnlyTouchSelected(t *testing.T) {
	fs := newFixtureSet(t, 2)
	fs.bank.SelectNext()

	fs.bank.CyclePattern()
	fs.bank.ToggleColorCycle()

	if fs.lights[0].SelectedPattern() != 0 || fs.lights[0].Settings() != (light.Settings{}) {
		t.Errorf("unselected fixture changed: %+v", fs.lights[0].Snapshot())
	}
	got := fs.lights[1].Snapshot()
	want := fixture.Config{CycleColor: true, PatternID: 1, Saturation: 255}
	if got != want {
		t.Errorf("selected fixture = %+v, want %+v", got, want)
	}
	if fs.state.cfgs["flood-1"] != want {
		t.Errorf("stored state = %+v, want %+v", fs.state.cfgs["flood-1"], want)
	}

	fs.bank.ToggleColorCycle()
	if s := fs.lights[1].Settings(); s.CycleColor || s.Saturation != 255 {
		t.Errorf("second toggle = %+v", s)
	}

	fs.lights[1].Configure(light.Settings{CycleColor: true, Hue: 90, Saturation: 200})
	fs.bank.ForceWhite()
	if s := fs.lights[1].Settings(); s != (light.Settings{}) {
		t.Errorf("ForceWhite() left %+v", s)
	}
}

func TestTick_AdvancesEveryFixture(t *testing.T) {
	fs := newFixtureSet(t, 3)

	if n := fs.bank.Tick(); n != 0 {
		t.Errorf("Tick() before a frame is due = %d, want 0", n)
	}
	fs.clk.Advance(20)
	if n := fs.bank.Tick(); n != 3 {
		t.Errorf("Tick() = %d, want 3", n)
	}
}

func TestSetup_ResumesStoredState(t *testing.T) {
	clk := clock.NewFake(0)
	l := light.NewPWM("flood", clk, nopLevel{})
	state := newMemState()
	state.cfgs["flood"] = fixture.Config{PatternID: 3, Hue: 7}

	b, err := New([]light.Light{l}, Options{State: state})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Setup(); err != nil {
		t.Fatal(err)
	}
	if got := l.Snapshot(); got != state.cfgs["flood"] {
		t.Errorf("resumed %+v", got)
	}
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name  string
		ev    input.Event
		check func(t *testing.T, fs *fixtureSet)
	}{
		{
			name: "admin pressed selects next",
			ev:   input.Event{Button: input.ButtonAdmin, Type: input.Pressed},
			check: func(t *testing.T, fs *fixtureSet) {
				if fs.bank.Context().Selected != 1 {
					t.Errorf("selected = %d", fs.bank.Context().Selected)
				}
			},
		},
		{
			name: "admin long press identifies",
			ev:   input.Event{Button: input.ButtonAdmin, Type: input.LongPressed},
			check: func(t *testing.T, fs *fixtureSet) {
				if fs.clk.Slept() == 0 {
					t.Error("identify did not block")
				}
			},
		},
		{
			name: "mode pressed cycles pattern",
			ev:   input.Event{Button: input.ButtonMode, Type: input.Pressed},
			check: func(t *testing.T, fs *fixtureSet) {
				if fs.lights[0].SelectedPattern() != 1 {
					t.Errorf("pattern = %d", fs.lights[0].SelectedPattern())
				}
			},
		},
		{
			name: "mode released is ignored",
			ev:   input.Event{Button: input.ButtonMode, Type: input.Released},
			check: func(t *testing.T, fs *fixtureSet) {
				if fs.lights[0].SelectedPattern() != 0 {
					t.Errorf("pattern = %d", fs.lights[0].SelectedPattern())
				}
			},
		},
		{
			name: "color clicked toggles cycle",
			ev:   input.Event{Button: input.ButtonColor, Type: input.Clicked},
			check: func(t *testing.T, fs *fixtureSet) {
				if s := fs.lights[0].Settings(); !s.CycleColor || s.Saturation != 255 {
					t.Errorf("settings = %+v", s)
				}
			},
		},
		{
			name: "tag pressed enters write mode",
			ev:   input.Event{Button: input.ButtonTag, Type: input.Pressed},
			check: func(t *testing.T, fs *fixtureSet) {
				if !fs.bank.Context().WriteMode {
					t.Error("write mode off")
				}
			},
		},
		{
			name: "tag double click overrides tags",
			ev:   input.Event{Button: input.ButtonTag, Type: input.DoubleClicked},
			check: func(t *testing.T, fs *fixtureSet) {
				if !fs.bank.Context().TagOverride {
					t.Error("override off")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFixtureSet(t, 2)
			fs.bank.HandleEvent(tt.ev)
			tt.check(t, fs)
		})
	}
}

func TestHandleEvent_WriteModeFollowsTagButton(t *testing.T) {
	fs := newFixtureSet(t, 1)
	fs.bank.HandleEvent(input.Event{Button: input.ButtonTag, Type: input.Pressed})
	fs.bank.HandleEvent(input.Event{Button: input.ButtonTag, Type: input.Released})
	if fs.bank.Context().WriteMode {
		t.Error("write mode still on after release")
	}
}

func TestHandleTag_SaveThenLoad(t *testing.T) {
	fs := newFixtureSet(t, 2)
	fs.bank.SelectNext()
	want := fixture.Config{PatternID: 2, Hue: 40, Saturation: 255}
	fs.lights[1].Restore(want)

	fs.bank.HandleEvent(input.Event{Button: input.ButtonTag, Type: input.Pressed})
	outcome, err := fs.bank.HandleTag(blueCard)
	if err != nil || outcome != Saved {
		t.Fatalf("HandleTag() save = %v, %v", outcome, err)
	}
	// Slot 1 lives in block 5.
	if got := fs.reader.blocks[5][:3]; got[0] != 0x04 || got[1] != 40 || got[2] != 255 {
		t.Errorf("block 5 = % X", fs.reader.blocks[5])
	}
	e := fs.ledger.last()
	if e.EventType != ledger.EventTagSaved || e.TagName != "blue puck" || e.Block != 5 || e.Fixture != "flood-1" || e.SessionID == "" {
		t.Errorf("ledger entry = %+v", e)
	}

	fs.bank.HandleEvent(input.Event{Button: input.ButtonTag, Type: input.Released})
	fs.lights[1].Restore(fixture.Config{})
	outcome, err = fs.bank.HandleTag(blueCard)
	if err != nil || outcome != Loaded {
		t.Fatalf("HandleTag() load = %v, %v", outcome, err)
	}
	if got := fs.lights[1].Snapshot(); got != want {
		t.Errorf("loaded %+v, want %+v", got, want)
	}
	if fs.state.cfgs["flood-1"] != want {
		t.Errorf("loaded config not stored: %+v", fs.state.cfgs["flood-1"])
	}
	if fs.reader.halts != 2 || fs.reader.stops != 2 {
		t.Errorf("teardowns = %d halts, %d stops; want 2 each", fs.reader.halts, fs.reader.stops)
	}
}

func TestHandleTag_LoadClampsPattern(t *testing.T) {
	fs := newFixtureSet(t, 1)
	fs.reader.blocks[4] = []byte{0x7F << 1, 10, 20}

	if _, err := fs.bank.HandleTag(blueCard); err != nil {
		t.Fatal(err)
	}
	if got := int(fs.lights[0].SelectedPattern()); got != fs.lights[0].PatternCount()-1 {
		t.Errorf("pattern = %d, want clamped to %d", got, fs.lights[0].PatternCount()-1)
	}
}

func TestHandleTag_FailureLeavesFixtureUnchanged(t *testing.T) {
	fs := newFixtureSet(t, 1)
	fs.lights[0].Restore(fixture.Config{PatternID: 3, Hue: 9})
	fs.reader.blocks[4] = []byte{0x02, 1, 1}
	fs.reader.authErr = errors.New("wrong key")

	outcome, err := fs.bank.HandleTag(blueCard)
	if outcome != Failed || !errors.Is(err, tagstore.ErrAuthentication) {
		t.Fatalf("HandleTag() = %v, %v", outcome, err)
	}
	if got := fs.lights[0].Snapshot(); got != (fixture.Config{PatternID: 3, Hue: 9}) {
		t.Errorf("fixture changed to %+v", got)
	}
	if e := fs.ledger.last(); e.EventType != ledger.EventTagFailed || e.Payload["result"] != "auth_error" {
		t.Errorf("ledger entry = %+v", e)
	}
	if fs.reader.halts != 1 || fs.reader.stops != 1 {
		t.Errorf("session not torn down: %d halts, %d stops", fs.reader.halts, fs.reader.stops)
	}
}

func TestHandleTag_TeardownErrorKeepsLoad(t *testing.T) {
	fs := newFixtureSet(t, 1)
	fs.reader.blocks[4] = []byte{0x06, 7, 8}
	fs.reader.haltErr = errors.New("card answered")

	outcome, err := fs.bank.HandleTag(blueCard)
	if err != nil || outcome != Loaded {
		t.Fatalf("HandleTag() = %v, %v", outcome, err)
	}
	if got := fs.lights[0].Snapshot(); got != (fixture.Config{PatternID: 3, Hue: 7, Saturation: 8}) {
		t.Errorf("loaded %+v", got)
	}
	if fs.reader.stops != 1 {
		t.Errorf("stops = %d, want 1", fs.reader.stops)
	}
}

func TestHandleTag_Classification(t *testing.T) {
	tests := []struct {
		name    string
		card    tagstore.Card
		prepare func(*Bank)
		outcome Outcome
		event   ledger.EventType
		// Every card that reaches the store is halted so it is not
		// handled again on the next poll.
		halted bool
	}{
		{
			name:    "unknown tag",
			card:    tagstore.Card{UID: []byte{1, 2, 3, 4}, Classic: true},
			outcome: Ignored,
			event:   ledger.EventTagUnknown,
			halted:  true,
		},
		{
			name:    "unsupported medium",
			card:    tagstore.Card{UID: blueUID, Type: "MIFARE Ultralight"},
			outcome: Failed,
			event:   ledger.EventTagUnsupported,
			halted:  true,
		},
		{
			name:    "seven byte classic uid",
			card:    tagstore.Card{UID: []byte{4, 1, 2, 3, 4, 5, 6}, Type: "MIFARE 1KB", Classic: true},
			outcome: Failed,
			event:   ledger.EventTagUnsupported,
			halted:  true,
		},
		{
			name: "override",
			card: blueCard,
			prepare: func(b *Bank) {
				b.HandleEvent(input.Event{Button: input.ButtonTag, Type: input.DoubleClicked})
			},
			outcome: Skipped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFixtureSet(t, 1)
			if tt.prepare != nil {
				tt.prepare(fs.bank)
			}
			outcome, _ := fs.bank.HandleTag(tt.card)
			if outcome != tt.outcome {
				t.Errorf("outcome = %v, want %v", outcome, tt.outcome)
			}
			want := 0
			if tt.halted {
				want = 1
			}
			if fs.reader.halts != want || fs.reader.stops != want {
				t.Errorf("halts=%d stops=%d, want %d/%d", fs.reader.halts, fs.reader.stops, want, want)
			}
			if tt.event == "" {
				if len(fs.ledger.entries) != 0 {
					t.Errorf("ledger entries = %+v, want none", fs.ledger.entries)
				}
				return
			}
			if e := fs.ledger.last(); e.EventType != tt.event {
				t.Errorf("ledger event = %q, want %q", e.EventType, tt.event)
			}
			if fs.lights[0].Snapshot() != (fixture.Config{}) {
				t.Errorf("fixture changed to %+v", fs.lights[0].Snapshot())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	fs := newFixtureSet(t, 2)
	fs.bank.SelectNext()
	s := fs.bank.Status()
	if s.Context.Selected != 1 || len(s.Fixtures) != 2 || s.Fixtures[1].Name != "flood-1" || s.Fixtures[0].Kind != "pwm" {
		t.Errorf("Status() = %+v", s)
	}
}
