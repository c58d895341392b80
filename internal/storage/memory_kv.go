package storage

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is a single stored value with an optional expiry.
type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKV is an in-process implementation of KV, backed by a mutex-guarded
// map. It is used by unit tests for internal/lock, internal/quota, and
// internal/ratelimit that exercise TTL and NX semantics without a live Redis.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memoryEntry)}
}

// SetNX implements KV.SetNX.
func (m *MemoryKV) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.data[key]; ok && !existing.expired(now) {
		return false, nil
	}

	m.data[key] = m.entryFor(value, ttl, now)
	return true, nil
}

// Set implements KV.Set.
func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = m.entryFor(value, ttl, time.Now())
	return nil
}

// Get implements KV.Get.
func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.data[key]
	if !ok || entry.expired(time.Now()) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Delete implements KV.Delete.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Close implements KV.Close.
func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

// Ping implements KV.Ping. MemoryKV is always reachable.
func (m *MemoryKV) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryKV) entryFor(value string, ttl time.Duration, now time.Time) memoryEntry {
	if ttl <= 0 {
		return memoryEntry{value: value}
	}
	return memoryEntry{value: value, expiresAt: now.Add(ttl)}
}
