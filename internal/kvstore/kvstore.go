// Package kvstore is a small generic key-value store for client-held
// preferences such as favorites. Values are JSON-encoded by the typed Store
// and kept by one of three backends: in-process memory, the SQL database
// (GORM) or Redis.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kvstore: key not found")

// Backend stores raw bytes. Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// Keys lists live keys with the given prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store is a typed, namespaced view over a Backend.
type Store[T any] struct {
	backend   Backend
	namespace string
	ttl       time.Duration
}

// NewStore returns a store whose keys live under "namespace:". ttl <= 0 keeps
// values until deleted.
func NewStore[T any](b Backend, namespace string, ttl time.Duration) *Store[T] {
	return &Store[T]{backend: b, namespace: strings.TrimSuffix(namespace, ":") + ":", ttl: ttl}
}

func (s *Store[T]) key(k string) string { return s.namespace + k }

// Get decodes the value at k.
func (s *Store[T]) Get(ctx context.Context, k string) (T, error) {
	var zero T
	raw, err := s.backend.Get(ctx, s.key(k))
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("kvstore: decode %q: %w", k, err)
	}
	return v, nil
}

// Put encodes and stores v at k.
func (s *Store[T]) Put(ctx context.Context, k string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", k, err)
	}
	return s.backend.Set(ctx, s.key(k), raw, s.ttl)
}

// Delete removes k.
func (s *Store[T]) Delete(ctx context.Context, k string) error {
	return s.backend.Delete(ctx, s.key(k))
}

// List returns every entry whose key starts with prefix, keyed without the
// namespace. Entries that vanish or fail to decode between listing and
// reading are skipped.
func (s *Store[T]) List(ctx context.Context, prefix string) (map[string]T, error) {
	keys, err := s.backend.Keys(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(keys))
	for _, full := range keys {
		k := strings.TrimPrefix(full, s.namespace)
		v, err := s.Get(ctx, k)
		if err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}
