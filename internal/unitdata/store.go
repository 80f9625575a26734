// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package unitdata is the charm's local key/value state: a single
// sqlite table of JSON-encoded values in the unit's state database.
// Writes are last-write-wins; there is no versioning and no history.
package unitdata

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
)

// Store holds charm state in a sqlite database on the unit.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the location of the unit state database:
// $UNIT_STATE_DB if set, otherwise .unit-state.db in the charm
// directory.
func DefaultPath() string {
	if path := os.Getenv("UNIT_STATE_DB"); path != "" {
		return path
	}
	return filepath.Join(os.Getenv("CHARM_DIR"), ".unit-state.db")
}

// Open opens (creating if necessary) the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening state database %q", path)
	}
	_, err = db.Exec("CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, data TEXT)")
	if err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(err, "initialising state database %q", path)
	}
	return &Store{db: db}, nil
}

// Get unmarshals the value stored under key into result. The error
// satisfies errors.IsNotFound when the key has never been set (or has
// been unset).
func (s *Store) Get(key string, result interface{}) error {
	var data string
	err := s.db.QueryRow("SELECT data FROM kv WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return errors.NotFoundf("state key %q", key)
	}
	if err != nil {
		return errors.Annotatef(err, "reading state key %q", key)
	}
	if err := json.Unmarshal([]byte(data), result); err != nil {
		return errors.Annotatef(err, "decoding state key %q", key)
	}
	return nil
}

// GetString returns the string stored under key, or "" when unset.
func (s *Store) GetString(key string) (string, error) {
	var value string
	err := s.Get(key, &value)
	if errors.IsNotFound(err) {
		return "", nil
	}
	return value, errors.Trace(err)
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Annotatef(err, "encoding state key %q", key)
	}
	_, err = s.db.Exec(
		"INSERT INTO kv (key, data) VALUES (?, ?)"+
			" ON CONFLICT(key) DO UPDATE SET data = excluded.data",
		key, string(data),
	)
	return errors.Annotatef(err, "writing state key %q", key)
}

// Unset removes key. Unsetting a missing key is not an error.
func (s *Store) Unset(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return errors.Annotatef(err, "deleting state key %q", key)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return errors.Trace(s.db.Close())
}
