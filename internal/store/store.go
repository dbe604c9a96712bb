package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no value (or a transient has
// expired).
var ErrNotFound = errors.New("store: key not found")

// Store is the persistence collaborator: durable keyed records plus a
// short-TTL transient variant used for locks and caches. Implementations
// must be read-after-write consistent within a single tick.
type Store interface {
	// Get unmarshals the value at key into out. Returns ErrNotFound when
	// the key is absent.
	Get(key string, out any) error

	// Set marshals value and stores it at key.
	Set(key string, value any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// GetTransient behaves like Get but treats expired entries as absent.
	GetTransient(key string, out any) error

	// SetTransient stores value at key with a time-to-live.
	SetTransient(key string, value any, ttl time.Duration) error

	// DeleteTransient removes a transient key.
	DeleteTransient(key string) error

	// Close releases the underlying storage.
	Close() error
}

// transientEnvelope wraps a transient value with its expiry.
type transientEnvelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}
