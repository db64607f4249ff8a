// Package attest records an audit entry for every successful mutating
// command.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/gowebpki/jcs"
)

// Attestation links an executed command to the commitment that authorized
// it without revealing the intent.
type Attestation struct {
	CommandID  string            `json:"command_id"`
	Identity   string            `json:"identity"`
	Commitment crypto.Commitment `json:"commitment"`
	ResultHash string            `json:"result_hash"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Store is append-only.
type Store interface {
	Append(ctx context.Context, a Attestation) error
	ByCommitment(ctx context.Context, c crypto.Commitment) ([]Attestation, error)
	Count(ctx context.Context) (int, error)
}

// ResultHash is the SHA-256 of the canonical JSON form of a result payload.
// Integers are hashed as decimal strings; canonical JSON numbers are IEEE
// doubles and would merge values above 2^53.
func ResultHash(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return "", fmt.Errorf("failed to decode result: %w", err)
	}
	raw, err = json.Marshal(exactIntegers(tree))
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize result: %w", err)
	}
	return crypto.Sha256Hex(canon), nil
}

func exactIntegers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = exactIntegers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = exactIntegers(e)
		}
		return t
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			return t
		}
		return t.String()
	}
	return v
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries []Attestation
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) Append(_ context.Context, a Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[a.CommandID]; dup {
		return fmt.Errorf("attestation for command %s already recorded", a.CommandID)
	}
	s.ids[a.CommandID] = struct{}{}
	s.entries = append(s.entries, a)
	return nil
}

func (s *MemoryStore) ByCommitment(_ context.Context, c crypto.Commitment) ([]Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attestation
	for _, a := range s.entries {
		if a.Commitment == c {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
