// Package store persists per-visitor booking state. It plays the role the
// browser's sessionStorage and localStorage play for a page-based client:
// values are opaque bytes under string keys, optionally with a TTL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a minimal key-value store with per-key expiry. A zero TTL means
// the value never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Purger is implemented by stores that need expired entries removed
// periodically.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// GetJSON decodes the value under key into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// Taker is implemented by stores that can read and delete a key atomically.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}

// Take reads and deletes a one-shot value. A missing key yields ErrNotFound.
// Only one of several concurrent callers gets the value when s is a Taker.
func Take(ctx context.Context, s Store, key string) ([]byte, error) {
	if t, ok := s.(Taker); ok {
		return t.Take(ctx, key)
	}
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, key); err != nil {
		return nil, err
	}
	return raw, nil
}
