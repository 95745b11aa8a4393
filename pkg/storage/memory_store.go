package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps blobs in-process. Failures can be injected per operation.
type MemoryStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	failPut  error
	failDrop error
}

// NewMemoryStore builds an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// FailPut makes subsequent Put calls return err (nil restores).
func (m *MemoryStore) FailPut(err error) {
	m.mu.Lock()
	m.failPut = err
	m.mu.Unlock()
}

// FailDelete makes subsequent Delete calls return err (nil restores).
func (m *MemoryStore) FailDelete(err error) {
	m.mu.Lock()
	m.failDrop = err
	m.mu.Unlock()
}

// Put stores the blob bytes under key.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.blobs[key] = data
	return nil
}

// Delete removes the blob.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDrop != nil {
		return m.failDrop
	}
	delete(m.blobs, key)
	return nil
}

// Get returns the stored bytes.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	return bytes.Clone(data), ok
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
