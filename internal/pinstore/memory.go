package pinstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend 测试 / 开发用；tag 索引与其它后端一样只追加
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	pins  map[string]Pin
	tags  map[string]map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: map[string][]byte{},
		pins:  map[string]Pin{},
		tags:  map[string]map[string]struct{}{},
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) Put(_ context.Context, pin Pin, content []byte) (Pin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.pins[pin.ContentID]; ok {
		pin = mergePin(prev, pin)
	}
	m.blobs[pin.ContentID] = append([]byte{}, content...)
	m.pins[pin.ContentID] = pin
	for k, v := range pin.Tags {
		key := tagIndexKey(k, v)
		if m.tags[key] == nil {
			m.tags[key] = map[string]struct{}{}
		}
		m.tags[key][pin.ContentID] = struct{}{}
	}
	return pin, nil
}

func (m *MemoryBackend) Get(_ context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[contentID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, b...), nil
}

func (m *MemoryBackend) ListByTag(_ context.Context, key, value string) ([]Pin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pins := []Pin{}
	for id := range m.tags[tagIndexKey(key, value)] {
		pins = append(pins, m.pins[id])
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].ContentID < pins[j].ContentID })
	return pins, nil
}

func (m *MemoryBackend) Close() error { return nil }
