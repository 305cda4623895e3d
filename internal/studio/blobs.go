package studio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dunamismax/pixelframe/internal/storage"
)

// BlobStore holds uploaded photo bytes. *storage.Client satisfies it.
type BlobStore interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
	ReadObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// prefixRemover is implemented by stores that can drop a whole session's
// objects at once, including ones no slot references any more.
type prefixRemover interface {
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (m *MemoryBlobStore) WriteObject(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("read object %s: %w", key, storage.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryBlobStore) RemovePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			removed++
		}
	}
	return removed, nil
}

// Keys lists stored keys in order.
func (m *MemoryBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
