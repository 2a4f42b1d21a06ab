package helper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

/*
ObjectStorage adalah facade blob store yang dipakai pipeline attachment.
Dua implementasi: OSSService (Aliyun OSS) dan MemoryStorage (dev/test).
*/
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObjects(ctx context.Context, keys []string) error
	PublicURL(key string) string
	Name() string
}

// NewObjectStorageFromEnv memakai OSS kalau ALI_OSS_* lengkap; kalau tidak,
// fallback ke MemoryStorage dengan publicBase sebagai prefix URL.
func NewObjectStorageFromEnv(log zerolog.Logger, publicBase string) ObjectStorage {
	svc, err := NewOSSServiceFromEnv(log)
	if err == nil {
		return svc
	}
	log.Warn().Err(err).Msg("[OSS] tidak aktif, attachment disimpan di memory")
	return NewMemoryStorage(publicBase)
}

// --------------------------------------------------
// MemoryStorage
// --------------------------------------------------

type StoredObject struct {
	Data        []byte
	ContentType string
}

type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
	base    string

	// PutErr, kalau di-set, dikembalikan oleh PutObject (simulasi storage down).
	PutErr error
}

func NewMemoryStorage(publicBase string) *MemoryStorage {
	base := strings.TrimRight(strings.TrimSpace(publicBase), "/")
	if base == "" {
		base = "memory://chat"
	}
	return &MemoryStorage{objects: map[string]StoredObject{}, base: base}
}

func (m *MemoryStorage) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.objects[key] = StoredObject{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *MemoryStorage) DeleteObjects(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

func (m *MemoryStorage) PublicURL(key string) string {
	if key == "" {
		return ""
	}
	return m.base + "/" + key
}

func (m *MemoryStorage) Name() string { return "memory" }

func (m *MemoryStorage) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o, ok
}

// Keys returns the stored keys in lexical order.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStorage) String() string {
	return fmt.Sprintf("MemoryStorage(%d objects)", len(m.Keys()))
}
