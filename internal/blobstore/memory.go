package blobstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Client used by tests and local development. It
// keeps stored payloads addressable by blob id and supports fault injection
// through the optional hooks.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	removes int

	// PutErr and RemoveErr, when set, are returned by the corresponding
	// operations instead of mutating state.
	PutErr    error
	RemoveErr error
}

// NewMemory constructs an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Enabled() bool { return true }

func (m *Memory) Put(ctx context.Context, req PutRequest) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return Ref{}, m.PutErr
	}
	if len(req.Bytes) == 0 {
		return Ref{}, fmt.Errorf("empty payload")
	}
	key := deriveKey(req.Folder, req.NameHint, req.Bytes)
	payload := append([]byte(nil), req.Bytes...)
	m.objects[key] = payload
	m.puts++
	return Ref{ID: key, URL: "memory://" + key}, nil
}

func (m *Memory) Remove(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	if _, ok := m.objects[blobID]; !ok {
		return fmt.Errorf("remove %s: %w", blobID, ErrBlobNotFound)
	}
	delete(m.objects, blobID)
	m.removes++
	return nil
}

// Exists reports whether a blob is currently stored.
func (m *Memory) Exists(blobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[blobID]
	return ok
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Counts returns how many puts and removes have succeeded.
func (m *Memory) Counts() (puts, removes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts, m.removes
}
