package repository

import (
	"context"
	"sync"
	"time"
)

// MemorySessionCache is the in-process fallback cache. Entries expire after
// the configured TTL; expired entries are dropped lazily on read.
type MemorySessionCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	blob      string
	expiresAt time.Time
}

func NewMemorySessionCache(ttl time.Duration) *MemorySessionCache {
	return &MemorySessionCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

func (m *MemorySessionCache) Get(_ context.Context, username string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[username]
	m.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, username)
		m.mu.Unlock()
		return "", nil
	}
	return entry.blob, nil
}

func (m *MemorySessionCache) Set(_ context.Context, username, blob string) error {
	m.mu.Lock()
	m.entries[username] = memoryEntry{blob: blob, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionCache) Invalidate(_ context.Context, username string) error {
	m.mu.Lock()
	delete(m.entries, username)
	m.mu.Unlock()
	return nil
}
