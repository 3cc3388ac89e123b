// ABOUTME: In-memory Store implementation for tests and ephemeral use
// ABOUTME: Deep-copies aggregates on save and load to prevent aliasing

package credential

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with an in-process map.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// SaveCredential implements Store.
func (m *MemoryStore) SaveCredential(ctx context.Context, cred *Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.ID] = cred.Clone()
	return nil
}

// GetCredential implements Store.
func (m *MemoryStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cred.Clone(), nil
}

// ListCredentialIDs implements Store.
func (m *MemoryStore) ListCredentialIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.creds))
	for id := range m.creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteCredential implements Store.
func (m *MemoryStore) DeleteCredential(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[id]; !ok {
		return ErrNotFound
	}
	delete(m.creds, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
