package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Key prefixes simulate logical buckets in Pebble's flat key space.
// Format: prefix + key -> JSON value.
var (
	prefixOption    = []byte("opt:") // durable records (scan state, caches)
	prefixTransient = []byte("tmp:") // TTL-wrapped values (locks, flags)
)

// PebbleStore persists the scanner's state in a Pebble database. Pebble's
// LSM tree needs no CGO and tolerates the frequent small read-modify-write
// cycles the tick model produces.
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

// Open opens or creates a Pebble-backed store at path.
func Open(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %q: %w", path, err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

// SetClock overrides the store's clock, used by TTL tests.
func (s *PebbleStore) SetClock(now func() time.Time) {
	s.now = now
}

func optionKey(key string) []byte {
	return append(append([]byte{}, prefixOption...), key...)
}

func transientKey(key string) []byte {
	return append(append([]byte{}, prefixTransient...), key...)
}

// Get unmarshals the durable value at key into out.
func (s *PebbleStore) Get(key string, out any) error {
	data, closer, err := s.db.Get(optionKey(key))
	if err == pebble.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store get %q: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store get %q: decode: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it durably at key.
func (s *PebbleStore) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store set %q: encode: %w", key, err)
	}
	if err := s.db.Set(optionKey(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("store set %q: %w", key, err)
	}
	return nil
}

// Delete removes the durable value at key.
func (s *PebbleStore) Delete(key string) error {
	if err := s.db.Delete(optionKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("store delete %q: %w", key, err)
	}
	return nil
}

// GetTransient unmarshals the transient value at key into out, treating
// expired entries as absent.
func (s *PebbleStore) GetTransient(key string, out any) error {
	data, closer, err := s.db.Get(transientKey(key))
	if err == pebble.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store get transient %q: %w", key, err)
	}
	defer closer.Close()

	var env transientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("store get transient %q: decode: %w", key, err)
	}
	if s.now().After(env.ExpiresAt) {
		// Lazy expiry; the next write overwrites the stale entry anyway.
		_ = s.db.Delete(transientKey(key), pebble.NoSync)
		return ErrNotFound
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("store get transient %q: decode value: %w", key, err)
	}
	return nil
}

// SetTransient stores value at key with a time-to-live.
func (s *PebbleStore) SetTransient(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store set transient %q: encode: %w", key, err)
	}
	env := transientEnvelope{
		ExpiresAt: s.now().Add(ttl),
		Value:     raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("store set transient %q: encode envelope: %w", key, err)
	}
	if err := s.db.Set(transientKey(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("store set transient %q: %w", key, err)
	}
	return nil
}

// DeleteTransient removes the transient value at key.
func (s *PebbleStore) DeleteTransient(key string) error {
	if err := s.db.Delete(transientKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("store delete transient %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
