// Package storage keeps the last applied configuration of every fixture so
// the installation comes back with the same look after a restart.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/flickerd/internal/fixture"
)

// Store provides versioned fixture state with JSON payloads.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new fixture state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the stored config for a fixture and its version. Version 0
// means nothing is stored.
func (s *Store) Get(name string) (cfg fixture.Config, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err = s.db.QueryRow(`
		SELECT payload, version FROM fixture_state
		WHERE name = ?
	`, name).Scan(&payload, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return fixture.Config{}, 0, nil
	}
	if err != nil {
		return fixture.Config{}, 0, err
	}
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return fixture.Config{}, 0, fmt.Errorf("decode state of %q: %w", name, err)
	}
	return cfg, version, nil
}

// Set stores cfg, incrementing version automatically. Writing the config
// already stored is a no-op.
func (s *Store) Set(name string, cfg fixture.Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO fixture_state (name, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
		WHERE payload != excluded.payload
	`, name, string(payload), time.Now().UTC().Unix())

	if err == nil {
		log.Debug().
			Str("fixture", name).
			Str("payload", string(payload)).
			Msg("Fixture state stored")
	}

	return err
}

// Delete removes a fixture's state.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM fixture_state WHERE name = ?`, name)
	return err
}

// GetAll returns every stored config keyed by fixture name.
func (s *Store) GetAll() (map[string]fixture.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT name, payload FROM fixture_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fixture.Config)
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}
		var cfg fixture.Config
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			return nil, fmt.Errorf("decode state of %q: %w", name, err)
		}
		out[name] = cfg
	}

	return out, rows.Err()
}

// Clear removes the state of every fixture.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM fixture_state`)
	return err
}
