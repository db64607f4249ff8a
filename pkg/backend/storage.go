package backend

import (
	"bytes"
	"context"
	"maps"
	"sync"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
)

type object struct {
	data     []byte
	metadata map[string]string
}

// MemoryStorage is content addressed by SHA-256.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]object)}
}

func (s *MemoryStorage) Write(_ context.Context, data []byte, metadata map[string]string) (string, error) {
	key := crypto.Sha256Hex(data)
	s.mu.Lock()
	s.objects[key] = object{data: bytes.Clone(data), metadata: maps.Clone(metadata)}
	s.mu.Unlock()
	return key, nil
}

func (s *MemoryStorage) Read(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(obj.data), true, nil
}

// Metadata returns what was stored alongside key.
func (s *MemoryStorage) Metadata(key string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return maps.Clone(obj.metadata), true
}
