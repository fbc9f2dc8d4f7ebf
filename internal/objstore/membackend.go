package objstore

import (
	"context"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	xattrs  map[string]string
	modTime time.Time
}

// MemBackend is an in-memory Backend used by action-layer and facade unit
// tests, grounded on the disposable-backend pattern the teacher uses for
// its integration tests rather than mocking every call.
type MemBackend struct {
	mu      sync.Mutex
	objects map[string]map[string]*memObject // pool -> oid -> object
}

// NewMemBackend returns an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{objects: make(map[string]map[string]*memObject)}
}

// Close satisfies pool.Resource; MemBackend holds no external resource.
func (m *MemBackend) Close() error { return nil }

// PutObject seeds an object's body and modification time, for test setup.
func (m *MemBackend) PutObject(pool, oid string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensurePool(pool)
	m.objects[pool][oid] = &memObject{data: data, xattrs: map[string]string{}, modTime: modTime}
}

func (m *MemBackend) ensurePool(pool string) {
	if m.objects[pool] == nil {
		m.objects[pool] = make(map[string]*memObject)
	}
}

func (m *MemBackend) Stat(ctx context.Context, pool, oid string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[pool][oid]
	if !ok {
		return Info{}, ErrObjectNotFound
	}
	return Info{Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

func (m *MemBackend) GetXattr(ctx context.Context, pool, oid, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[pool][oid]
	if !ok {
		return nil, ErrObjectNotFound
	}
	val, ok := obj.xattrs[key]
	if !ok {
		return nil, ErrXattrNotSet
	}
	return []byte(val), nil
}

func (m *MemBackend) SetXattr(ctx context.Context, pool, oid, key string, value []byte, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[pool][oid]
	if !ok {
		return ErrObjectNotFound
	}
	if _, exists := obj.xattrs[key]; exists && !overwrite {
		return ErrXattrExists
	}
	obj.xattrs[key] = string(value)
	return nil
}

func (m *MemBackend) RemoveXattr(ctx context.Context, pool, oid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[pool][oid]
	if !ok {
		return ErrObjectNotFound
	}
	delete(obj.xattrs, key)
	return nil
}

func (m *MemBackend) ReadAt(ctx context.Context, pool, oid string, offset, length int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[pool][oid]
	if !ok {
		return nil, ErrObjectNotFound
	}
	if offset >= int64(len(obj.data)) {
		return nil, nil
	}
	end := offset + length
	if end > int64(len(obj.data)) {
		end = int64(len(obj.data))
	}
	out := make([]byte, end-offset)
	copy(out, obj.data[offset:end])
	return out, nil
}
