package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flickerd.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer d.Close()

	for _, table := range []string{"tag_ledger", "fixture_state"} {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flickerd.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := d.Exec(`INSERT INTO fixture_state (name, payload, updated_at) VALUES ('a', '{}', 0)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer d.Close()
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM fixture_state`).Scan(&n); err != nil || n != 1 {
		t.Errorf("rows after reopen = %d, %v; want 1", n, err)
	}
}

func TestOpen_Memory(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer d.Close()
	if _, err := d.Exec(`INSERT INTO tag_ledger (event_type, timestamp) VALUES ('x', 1)`); err != nil {
		t.Errorf("insert into memory db: %v", err)
	}
}
