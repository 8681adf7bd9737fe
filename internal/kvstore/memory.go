package kvstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-stay-booking/internal/clock"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process backend, used in tests and when no database or
// Redis is configured.
type Memory struct {
	mu    sync.RWMutex
	clock clock.Clock
	data  map[string]memEntry
}

// NewMemory returns an empty backend. A nil clock uses the wall clock.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real{}
	}
	return &Memory{clock: c, data: make(map[string]memEntry)}
}

func (m *Memory) live(e memEntry) bool {
	return e.expires.IsZero() || m.clock.Now().Before(e.expires)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || !m.live(e) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) && m.live(e) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out, nil
}
