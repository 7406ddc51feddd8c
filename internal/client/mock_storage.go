package client

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const mockCDNBase = "https://cdn.carzbazzar.com"

// MockStorage is used when no storage provider is configured. It drains the
// body, reporting progress, and remembers the keys it has seen.
type MockStorage struct {
	mu      sync.Mutex
	objects map[string]int64
}

// NewMockStorage creates an in-memory storage stand-in
func NewMockStorage() *MockStorage {
	return &MockStorage{objects: make(map[string]int64)}
}

// Put reads the whole body and returns a CDN-style URL
func (m *MockStorage) Put(ctx context.Context, in PutInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	n, err := io.Copy(io.Discard, newProgressReader(in.Body, in.Size, in.OnProgress))
	if err != nil {
		return "", fmt.Errorf("failed to read upload body: %w", err)
	}

	m.mu.Lock()
	m.objects[in.Key] = n
	m.mu.Unlock()

	return m.GetPublicURL(in.Key), nil
}

// Delete forgets a key
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// GetPublicURL returns the mock CDN URL for a key
func (m *MockStorage) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/%s", mockCDNBase, key)
}

// Size returns the stored size of a key
func (m *MockStorage) Size(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.objects[key]
	return n, ok
}
