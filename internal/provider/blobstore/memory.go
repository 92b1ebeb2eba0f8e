// Package blobstore provides an in-process BlobStore used for local runs
// and tests; production deployments configure a real object-storage-backed
// implementation behind the same provider.BlobStore interface.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Memory is a provider.BlobStore that keeps uploaded bytes in a map.
type Memory struct {
	bucket string

	mu sync.RWMutex
	objects map[string][]byte
}

// New creates a Memory blob store for the given logical bucket name.
func New(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string][]byte)}
}

// Put implements provider.BlobStore.
func (m *Memory) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("blobstore: read upload: %w", err)
	}
	if key == "" {
		key = uuid.NewString()
	}
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	return fmt.Sprintf("blob://%s/%s", m.bucket, key), nil
}

// Get returns a previously stored object, for tests.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.objects[key]
	return v, ok
}
