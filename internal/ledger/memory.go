package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexcount/pkg/redis"
)

// MemoryBackend is an in-process Backend. TTLs are honored on read.
type MemoryBackend struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	strings map[string]memoryValue
	now     func() time.Time
}

type memoryValue struct {
	value   string
	expires time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		hashes:  make(map[string]map[string]string),
		strings: make(map[string]memoryValue),
		now:     time.Now,
	}
}

func (m *MemoryBackend) HSet(_ context.Context, key, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = fmt.Sprint(value)
	return nil
}

func (m *MemoryBackend) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryBackend) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	v := memoryValue{value: fmt.Sprint(value)}
	if ttl > 0 {
		v.expires = m.now().Add(ttl)
	}
	m.strings[key] = v
	return true, nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		return "", redis.ErrNil
	}
	return v.value, nil
}

func (m *MemoryBackend) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.hashes, k)
	}
	return nil
}

// live returns the string value for key unless it has expired. m.mu is held.
func (m *MemoryBackend) live(key string) (memoryValue, bool) {
	v, ok := m.strings[key]
	if !ok {
		return v, false
	}
	if !v.expires.IsZero() && !m.now().Before(v.expires) {
		delete(m.strings, key)
		return v, false
	}
	return v, true
}
