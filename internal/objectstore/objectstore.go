// Package objectstore holds implementations of the opaque off-site blob
// contract: put(bytes) -> handle, get(handle) -> bytes. The service treats
// payloads as opaque ciphertext; nothing here inspects them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a handle does not resolve to a stored blob.
var ErrNotFound = errors.New("objectstore: handle not found")

// Memory is an in-process store used by tests and single-node development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores data under a fresh random handle.
func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.blobs[handle] = cp
	m.mu.Unlock()
	return handle, nil
}

// Get returns the blob stored under handle.
func (m *Memory) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	blob, ok := m.blobs[handle]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

// Dir stores blobs as files under a root directory, one file per handle.
// Good enough for a single-node deployment where the "off-site" store is a
// mounted volume.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns a store over it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("objectstore: failed to create root: %w", err)
	}
	return &Dir{root: root}, nil
}

// Put writes data to a fresh file and returns its handle.
func (d *Dir) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()
	tmp := filepath.Join(d.root, handle+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("objectstore: write failed: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.root, handle)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("objectstore: rename failed: %w", err)
	}
	return handle, nil
}

// Get reads the blob stored under handle.
func (d *Dir) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Handles are always UUIDs we issued; reject anything path-like.
	if handle != filepath.Base(handle) || strings.ContainsAny(handle, "/\\") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(d.root, handle))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: read failed: %w", err)
	}
	return data, nil
}
