package storage

import (
	"testing"

	"github.com/dokzlo13/flickerd/internal/db"
	"github.com/dokzlo13/flickerd/internal/fixture"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestGet_Missing(t *testing.T) {
	s := newStore(t)
	cfg, version, err := s.Get("windows")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version != 0 || cfg != (fixture.Config{}) {
		t.Errorf("Get() = %+v v%d, want zero", cfg, version)
	}
}

func TestSet_Versions(t *testing.T) {
	s := newStore(t)
	a := fixture.Config{PatternID: 2, Hue: 40, Saturation: 255}
	b := fixture.Config{CycleColor: true, PatternID: 5}

	steps := []struct {
		cfg     fixture.Config
		version int64
	}{
		{a, 1},
		{a, 1}, // unchanged payload keeps its version
		{b, 2},
		{a, 3},
	}
	for i, step := range steps {
		if err := s.Set("windows", step.cfg); err != nil {
			t.Fatalf("step %d: Set() error = %v", i, err)
		}
		got, version, err := s.Get("windows")
		if err != nil {
			t.Fatalf("step %d: Get() error = %v", i, err)
		}
		if got != step.cfg || version != step.version {
			t.Errorf("step %d: Get() = %+v v%d, want %+v v%d", i, got, version, step.cfg, step.version)
		}
	}
}

func TestGetAllAndDelete(t *testing.T) {
	s := newStore(t)
	_ = s.Set("windows", fixture.Config{PatternID: 1})
	_ = s.Set("waterfall", fixture.Config{Hue: 9})

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 2 || all["waterfall"].Hue != 9 {
		t.Errorf("GetAll() = %+v", all)
	}

	if err := s.Delete("windows"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	all, _ = s.GetAll()
	if _, ok := all["windows"]; ok || len(all) != 1 {
		t.Errorf("after Delete GetAll() = %+v", all)
	}
}

func TestClear(t *testing.T) {
	s := newStore(t)
	_ = s.Set("windows", fixture.Config{PatternID: 1})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, version, _ := s.Get("windows"); version != 0 {
		t.Errorf("version after Clear = %d", version)
	}
}
