package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and simulated multi-worker
// scenarios. It is safe for concurrent use; PutIfAbsent is atomic, which
// makes it stricter than the S3 best-effort conditional create.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	payload  []byte
	modified time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) || strings.HasSuffix(key, "/") {
			continue
		}
		infos = append(infos, ObjectInfo{Key: key, Size: int64(len(obj.payload)), LastModified: obj.modified})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	payload := make([]byte, len(obj.payload))
	copy(payload, obj.payload)
	return payload, nil
}

func (m *Memory) Put(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, payload)
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; ok {
		return ErrAlreadyExists
	}
	m.store(key, payload)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Head(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.payload)), LastModified: obj.modified}, nil
}

func (m *Memory) Download(ctx context.Context, key, localPath string) error {
	payload, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, payload, 0o644)
}

func (m *Memory) Upload(ctx context.Context, localPath, key string) error {
	payload, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.Put(ctx, key, payload)
}

func (m *Memory) store(key string, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.objects[key] = memoryObject{payload: cp, modified: time.Now().UTC()}
}

// SetModified overrides an object's timestamp; tests use it to simulate
// stale leases.
func (m *Memory) SetModified(key string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.modified = at
		m.objects[key] = obj
	}
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var _ Store = (*Memory)(nil)
