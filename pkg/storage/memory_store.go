package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a process-local Store. It backs tests and runs where change history
// does not need to survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]memoryItem
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// SetClock replaces the clock used for TTL expiry
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("%w: memory store closed", utils.ErrStoreUnavailable)
	}
	return nil
}

// live returns the item at key if present and not expired; caller holds mu
func (m *MemoryStore) live(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
}

// Get implements KeyValueStore
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	it, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

// Set implements KeyValueStore
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.put(key, value, ttl)
	return nil
}

// Delete implements KeyValueStore
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	delete(m.items, key)
	return nil
}

// Update implements Store
func (m *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	var old []byte
	if it, ok := m.live(key); ok {
		old = append([]byte(nil), it.value...)
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	if next != nil {
		m.put(key, next, ttl)
	}
	return nil
}

// Scan implements Store. fn runs on a snapshot so it may call back into the store.
func (m *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	m.mu.Lock()
	if err := m.check(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	keys := make([]string, 0)
	snapshot := make(map[string][]byte)
	for k := range m.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if it, ok := m.live(k); ok {
			keys = append(keys, k)
			snapshot[k] = append([]byte(nil), it.value...)
		}
	}
	m.mu.Unlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix implements Store
func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			if _, ok := m.live(k); ok {
				n++
			}
			delete(m.items, k)
		}
	}
	return n, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
