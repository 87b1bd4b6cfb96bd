package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data    []byte
	updated time.Time
}

// MemoryBucket is an in-process BucketService.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: map[string]memoryObject{}}
}

func memoryKey(category BucketCategory, key string) string { return string(category) + "/" + key }

func (m *MemoryBucket) UploadFile(ctx context.Context, category BucketCategory, key string, file io.Reader) (int64, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.objects[memoryKey(category, key)] = memoryObject{data: data, updated: time.Now().UTC()}
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *MemoryBucket) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	m.mu.Lock()
	delete(m.objects, memoryKey(category, key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryBucket) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[memoryKey(category, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %q: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBucket) GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error) {
	m.mu.RLock()
	obj, ok := m.objects[memoryKey(category, key)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("attrs %q: %w", key, ErrObjectNotFound)
	}
	return &ObjectAttrs{Size: int64(len(obj.data)), ContentType: ContentTypeForKey(key), Updated: obj.updated}, nil
}

func (m *MemoryBucket) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	full := memoryKey(category, prefix)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			out = append(out, strings.TrimPrefix(k, string(category)+"/"))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBucket) DeletePrefix(ctx context.Context, category BucketCategory, prefix string) error {
	full := memoryKey(category, prefix)
	m.mu.Lock()
	for k := range m.objects {
		if strings.HasPrefix(k, full) {
			delete(m.objects, k)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBucket) GetPublicURL(category BucketCategory, key string) string {
	return "memory://" + memoryKey(category, strings.TrimLeft(key, "/"))
}
