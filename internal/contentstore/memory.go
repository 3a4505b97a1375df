package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// SumCID returns the CIDv1 (raw codec, sha2-256) of data.
func SumCID(data []byte) (string, error) {
	prefix := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}
	id, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("failed to compute cid: %w", err)
	}
	return id.String(), nil
}

// MemoryStore is an in-process content addressed store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	names   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		names:   make(map[string]string),
	}
}

func (m *MemoryStore) Put(_ context.Context, object interface{}, nameHint string) (string, error) {
	data, err := json.Marshal(object)
	if err != nil {
		return "", fmt.Errorf("failed to encode object: %w", err)
	}
	id, err := SumCID(data)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = data
	m.names[id] = nameHint
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, contentID string) ([]byte, error) {
	if _, err := cid.Decode(contentID); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCID, contentID, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	return data, nil
}

func (m *MemoryStore) URLFor(contentID string) string {
	return "ipfs://" + contentID
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
