package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int64
	reset time.Time
}

// MemoryStore keeps counters in process. It is used when no Redis is
// configured and only limits per instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]window), now: time.Now}
}

func (m *MemoryStore) Hit(ctx context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.reset) {
		w = window{reset: now.Add(d)}
		m.sweep(now)
	}
	w.count++
	m.windows[key] = w
	return w.count, w.reset.Sub(now), nil
}

// sweep drops expired windows. Callers hold mu.
func (m *MemoryStore) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.reset) {
			delete(m.windows, key)
		}
	}
}
