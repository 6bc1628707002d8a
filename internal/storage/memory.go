package storage

import (
	"context"
	"sync"
)

var (
	_ KV      = (*MemoryKV)(nil)
	_ Watcher = (*MemoryKV)(nil)
)

// MemoryKV is an in-process store. Several handles to the same MemoryKV see
// each other's writes through Watch, which makes it a stand-in for a shared
// backend in tests.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[chan string]struct{}
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data:     make(map[string][]byte),
		watchers: make(map[chan string]struct{}),
	}
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()

	m.notify(key)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()

	m.notify(key)
	return nil
}

// Close is a no-op.
func (m *MemoryKV) Close() error {
	return nil
}

// Watch reports every Set and Delete until ctx is done.
func (m *MemoryKV) Watch(ctx context.Context, onChange func(key string)) error {
	ch := make(chan string, 64)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key := <-ch:
			onChange(key)
		}
	}
}

func (m *MemoryKV) notify(key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for ch := range m.watchers {
		select {
		case ch <- key:
		default:
			// Watcher is behind; drop rather than block the writer.
		}
	}
}
