// Package bank holds every fixture of the installation and applies operator
// input and tag traffic to the one currently selected for control.
//
// All fixtures animate on every Tick regardless of the selection; the
// selection only decides which fixture the buttons and the tag act on.
package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/fixture"
	"github.com/dokzlo13/flickerd/internal/input"
	"github.com/dokzlo13/flickerd/internal/ledger"
	"github.com/dokzlo13/flickerd/internal/light"
	"github.com/dokzlo13/flickerd/internal/metrics"
	"github.com/dokzlo13/flickerd/internal/tagstore"
)

// Context is the orchestration state. Only the bank writes it.
type Context struct {
	// Selected is the index of the fixture under control.
	Selected int `json:"selected"`
	// TagOverride disables all tag traffic until restart.
	TagOverride bool `json:"tag_override"`
	// WriteMode saves to presented tags instead of loading from them.
	WriteMode bool `json:"write_mode"`
}

// Recorder appends tag outcomes to a history.
type Recorder interface {
	Append(ledger.Entry) error
}

// StateStore keeps the last applied config of each fixture.
type StateStore interface {
	Get(name string) (fixture.Config, int64, error)
	Set(name string, cfg fixture.Config) error
}

// Options are the optional collaborators of a Bank.
type Options struct {
	// Tags gives HandleTag access to the card. Without it tags are ignored.
	Tags *tagstore.Store
	// Registry limits tag traffic to known tags. Nil accepts any tag.
	Registry *tagstore.Registry
	Ledger   Recorder
	State    StateStore
}

// Bank is the ordered set of fixtures fixed at startup.
type Bank struct {
	mu     sync.RWMutex
	lights []light.Light
	names  []string
	ctx    Context

	layout   tagstore.Layout
	tags     *tagstore.Store
	registry *tagstore.Registry
	ledger   Recorder
	state    StateStore
}

// New creates a bank. Fixture names must be unique and there must be no
// more fixtures than tag slots.
func New(lights []light.Light, opts Options) (*Bank, error) {
	if len(lights) == 0 {
		return nil, errors.New("bank: no fixtures")
	}
	layout := tagstore.DefaultLayout
	if opts.Tags != nil {
		layout = opts.Tags.Layout()
	}
	if len(lights) > layout.MaxSlots {
		return nil, fmt.Errorf("bank: %d fixtures exceed %d tag slots", len(lights), layout.MaxSlots)
	}

	names := make([]string, len(lights))
	seen := make(map[string]bool, len(lights))
	for i, l := range lights {
		if seen[l.Name()] {
			return nil, fmt.Errorf("bank: duplicate fixture name %q", l.Name())
		}
		seen[l.Name()] = true
		names[i] = l.Name()
	}

	b := &Bank{
		lights:   lights,
		names:    names,
		layout:   layout,
		tags:     opts.Tags,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		state:    opts.State,
	}
	metrics.SetSelected(names, names[0])
	return b, nil
}

// Len is the number of fixtures.
func (b *Bank) Len() int {
	return len(b.lights)
}

// Context returns a copy of the orchestration state.
func (b *Bank) Context() Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

// Selected returns the fixture under control.
func (b *Bank) Selected() light.Light {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lights[b.ctx.Selected]
}

// Setup initializes every fixture and resumes stored state. A fixture that
// fails setup is an error; missing state is not.
func (b *Bank) Setup() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.lights {
		if b.state != nil {
			cfg, version, err := b.state.Get(l.Name())
			switch {
			case err != nil:
				log.Warn().Err(err).Str("fixture", l.Name()).Msg("Failed to load stored fixture state")
			case version > 0:
				if l.Restore(cfg) {
					log.Warn().Str("fixture", l.Name()).Str("config", cfg.String()).Msg("Stored pattern out of range, clamped")
				}
				log.Debug().Str("fixture", l.Name()).Str("config", cfg.String()).Int64("version", version).Msg("Resumed fixture state")
			}
		}
		if err := l.Setup(); err != nil {
			return fmt.Errorf("setup %s: %w", l.Name(), err)
		}
	}
	log.Info().Int("fixtures", len(b.lights)).Msg("Fixtures ready")
	return nil
}

// SelectNext moves control to the next fixture. Lights are not touched.
func (b *Bank) SelectNext() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx.Selected = (b.ctx.Selected + 1) % len(b.lights)
	name := b.names[b.ctx.Selected]
	metrics.SetSelected(b.names, name)
	log.Info().Int("index", b.ctx.Selected).Str("fixture", name).Msg("Selected fixture")
	return b.ctx.Selected
}

// CyclePattern steps the selected fixture to its next pattern.
func (b *Bank) CyclePattern() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.lights[b.ctx.Selected]
	id := l.SelectNextPattern()
	metrics.PatternChanged(l.Name())
	log.Info().Str("fixture", l.Name()).Uint8("pattern", id).Msg("Pattern changed")
	b.persist(l)
	return id
}

// ToggleColorCycle saturates the selected fixture's color and flips hue
// cycling.
func (b *Bank) ToggleColorCycle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.lights[b.ctx.Selected]
	s := l.Settings()
	s.Saturation = 255
	s.CycleColor = !s.CycleColor
	l.Configure(s)
	log.Info().Str("fixture", l.Name()).Bool("cycle_color", s.CycleColor).Msg("Color cycle toggled")
	b.persist(l)
}

// ForceWhite stops cycling and desaturates the selected fixture.
func (b *Bank) ForceWhite() {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.lights[b.ctx.Selected]
	l.Configure(light.Settings{})
	log.Info().Str("fixture", l.Name()).Msg("Forced white")
	b.persist(l)
}

// Tick advances every fixture once and returns how many changed.
func (b *Bank) Tick() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := 0
	for _, l := range b.lights {
		if l.Advance() {
			changed++
			metrics.FrameShown(l.Name())
		}
	}
	return changed
}

// IdentifySelected blocks while the selected fixture plays its identify
// sequence. Every other fixture is frozen meanwhile.
func (b *Bank) IdentifySelected() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.lights[b.ctx.Selected]
	metrics.Identified(l.Name())
	log.Info().Str("fixture", l.Name()).Msg("Identifying fixture")
	if err := l.Identify(); err != nil {
		return fmt.Errorf("identify %s: %w", l.Name(), err)
	}
	return nil
}

// LoadFromTag reads the selected fixture's slot and applies it. The fixture
// is left untouched on error.
func (b *Bank) LoadFromTag(sess *tagstore.Session) (fixture.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(sess)
}

// SaveToTag writes the selected fixture's config to its slot.
func (b *Bank) SaveToTag(sess *tagstore.Session) (fixture.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.save(sess)
}

func (b *Bank) load(sess *tagstore.Session) (fixture.Config, error) {
	l := b.lights[b.ctx.Selected]
	addr, err := b.layout.BlockForSlot(b.ctx.Selected)
	if err != nil {
		return fixture.Config{}, err
	}
	cfg, err := sess.ReadConfig(addr)
	if err != nil {
		return fixture.Config{}, err
	}
	if l.Restore(cfg) {
		log.Warn().
			Str("fixture", l.Name()).
			Uint8("pattern", cfg.PatternID).
			Int("patterns", l.PatternCount()).
			Msg("Tag pattern out of range, clamped")
	}
	applied := l.Snapshot()
	b.persist(l)
	return applied, nil
}

func (b *Bank) save(sess *tagstore.Session) (fixture.Config, error) {
	l := b.lights[b.ctx.Selected]
	addr, err := b.layout.BlockForSlot(b.ctx.Selected)
	if err != nil {
		return fixture.Config{}, err
	}
	cfg := l.Snapshot()
	if err := sess.WriteConfig(addr, cfg); err != nil {
		return fixture.Config{}, err
	}
	return cfg, nil
}

// persist stores l's config. Failures are logged; they never affect the
// fixture.
func (b *Bank) persist(l light.Light) {
	if b.state == nil {
		return
	}
	if err := b.state.Set(l.Name(), l.Snapshot()); err != nil {
		log.Warn().Err(err).Str("fixture", l.Name()).Msg("Failed to store fixture state")
	}
}

// HandleEvent applies one button event.
func (b *Bank) HandleEvent(ev input.Event) {
	metrics.ButtonEvent(ev.Button.String(), ev.Type.String())

	switch ev.Button {
	case input.ButtonAdmin:
		switch ev.Type {
		case input.Pressed:
			b.SelectNext()
		case input.LongPressed:
			if err := b.IdentifySelected(); err != nil {
				log.Error().Err(err).Msg("Identify failed")
			}
		}
	case input.ButtonMode:
		if ev.Type == input.Pressed {
			b.CyclePattern()
		}
	case input.ButtonColor:
		switch ev.Type {
		case input.Clicked:
			b.ToggleColorCycle()
		case input.LongPressed:
			b.ForceWhite()
		}
	case input.ButtonTag:
		switch ev.Type {
		case input.Pressed:
			b.setWriteMode(true)
		case input.Released:
			b.setWriteMode(false)
		case input.DoubleClicked:
			b.mu.Lock()
			b.ctx.TagOverride = true
			b.mu.Unlock()
			log.Warn().Msg("Tag override enabled, tags are ignored until restart")
		}
	}
}

func (b *Bank) setWriteMode(on bool) {
	b.mu.Lock()
	changed := b.ctx.WriteMode != on
	b.ctx.WriteMode = on
	b.mu.Unlock()
	if changed {
		log.Info().Bool("write_mode", on).Msg("Tag write mode")
	}
}

// Outcome describes what HandleTag did with a card.
type Outcome int

const (
	// Skipped means tag traffic is overridden or no tag store is set.
	Skipped Outcome = iota
	// Ignored means the tag is not in the registry.
	Ignored
	Loaded
	Saved
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Ignored:
		return "ignored"
	case Loaded:
		return "loaded"
	case Saved:
		return "saved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandleTag runs the load or save path for a card that entered the field.
// Errors are returned for reporting only; fixture state is never changed by
// a failed operation.
func (b *Bank) HandleTag(card tagstore.Card) (Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx.TagOverride || b.tags == nil {
		return Skipped, nil
	}

	entry := ledger.Entry{
		SessionID: uuid.New().String(),
		Fixture:   b.names[b.ctx.Selected],
	}
	if uid, ok := tagstore.UIDFromBytes(card.UID); ok {
		entry.UID = uid.String()
		if b.registry != nil {
			tag, known := b.registry.Lookup(uid)
			if !known {
				log.Info().Str("uid", entry.UID).Msg("Unknown tag, ignoring")
				entry.EventType = ledger.EventTagUnknown
				metrics.TagOperation("identify", metrics.ResultUnknown)
				b.record(entry)
				b.discard(card)
				return Ignored, nil
			}
			entry.TagName = tag.Name
		}
	} else {
		entry.UID = fmt.Sprintf("%X", card.UID)
	}
	if addr, err := b.layout.BlockForSlot(b.ctx.Selected); err == nil {
		entry.Block = int(addr)
	}

	op := "load"
	if b.ctx.WriteMode {
		op = "save"
	}

	logger := log.With().
		Str("session", entry.SessionID).
		Str("uid", entry.UID).
		Str("tag", entry.TagName).
		Str("fixture", entry.Fixture).
		Int("block", entry.Block).
		Logger()

	var cfg fixture.Config
	sess, err := b.tags.Open(card)
	if err == nil {
		if op == "save" {
			cfg, err = b.save(sess)
		} else {
			cfg, err = b.load(sess)
		}
		// A load has already been applied, so a failed teardown does not
		// turn it into a failure.
		if cerr := sess.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Tag teardown failed")
		}
	} else if !errors.Is(err, tagstore.ErrSessionBusy) {
		b.discard(card)
	}

	if err != nil {
		result := classify(err)
		metrics.TagOperation(op, result)
		entry.EventType = ledger.EventTagFailed
		if result == metrics.ResultUnsupported {
			entry.EventType = ledger.EventTagUnsupported
		}
		entry.Payload = map[string]any{"op": op, "error": err.Error(), "result": result}
		b.record(entry)
		logger.Error().Err(err).Str("op", op).Msg("Tag operation failed")
		return Failed, err
	}

	metrics.TagOperation(op, metrics.ResultOK)
	entry.Payload = map[string]any{
		"cycle_color": cfg.CycleColor,
		"pattern_id":  cfg.PatternID,
		"hue":         cfg.Hue,
		"saturation":  cfg.Saturation,
	}
	outcome := Loaded
	entry.EventType = ledger.EventTagLoaded
	if op == "save" {
		outcome = Saved
		entry.EventType = ledger.EventTagSaved
	}
	b.record(entry)
	logger.Info().Str("config", cfg.String()).Msgf("Tag %s", outcome)
	return outcome, nil
}

// discard halts a card that gets no session so the next poll does not pick
// it up again.
func (b *Bank) discard(card tagstore.Card) {
	if err := b.tags.Discard(card); err != nil {
		log.Warn().Err(err).Hex("uid", card.UID).Msg("Tag teardown failed")
	}
}

func (b *Bank) record(e ledger.Entry) {
	if b.ledger == nil {
		return
	}
	if err := b.ledger.Append(e); err != nil {
		log.Warn().Err(err).Msg("Failed to record tag operation")
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, tagstore.ErrAuthentication):
		return metrics.ResultAuth
	case errors.Is(err, tagstore.ErrUnsupportedMedium):
		return metrics.ResultUnsupported
	case errors.Is(err, tagstore.ErrStorageIO):
		return metrics.ResultIO
	default:
		return metrics.ResultInvalid
	}
}

// Status is a diagnostic view of the bank.
type Status struct {
	Context  Context        `json:"context"`
	Fixtures []light.Status `json:"fixtures"`
}

// Status describes every fixture.
func (b *Bank) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Status{Context: b.ctx, Fixtures: make([]light.Status, len(b.lights))}
	for i, l := range b.lights {
		s.Fixtures[i] = light.Describe(l)
	}
	return s
}
