package cache

import (
	"sync"
	"time"
)

// Store is a TTL key-value cache. It is never the authoritative source for
// any invariant; on a miss the caller must consult the backing store.
type Store interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{}, ttl time.Duration)
	Evict(key string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Memory is an in-process TTL cache with a background janitor
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	stopCh  chan struct{}
}

// NewMemory creates a new in-memory cache
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the expired-entry sweep loop
func (m *Memory) Start() {
	go m.run()
}

// Stop stops the janitor
func (m *Memory) Stop() {
	close(m.stopCh)
}

func (m *Memory) run() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// Get returns the cached value if present and not expired
func (m *Memory) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Put stores a value with the given TTL
func (m *Memory) Put(key string, value interface{}, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()
}

// Evict removes a key
func (m *Memory) Evict(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of entries, expired ones included
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// sweep removes expired entries
func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
