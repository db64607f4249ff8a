// Package nonce records which (identity, nonce) pairs have been spent.
package nonce

import (
	"context"
	"strconv"
	"sync"
)

// Ledger is the engine's replay guard. CheckAndConsume returns true exactly
// once per (identity, nonce); every later call returns false and changes
// nothing. Consumption is permanent.
type Ledger interface {
	CheckAndConsume(ctx context.Context, identity string, nonce uint64) (bool, error)
	// Spent reports whether (identity, nonce) was already consumed without
	// consuming it.
	Spent(ctx context.Context, identity string, nonce uint64) (bool, error)
}

type entry struct {
	identity string
	nonce    uint64
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[entry]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[entry]struct{})}
}

func (l *MemoryLedger) CheckAndConsume(_ context.Context, identity string, nonce uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := entry{identity, nonce}
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	l.seen[k] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Spent(_ context.Context, identity string, nonce uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[entry{identity, nonce}]
	return ok, nil
}

// Len returns the number of consumed pairs.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func key(prefix, identity string, nonce uint64) string {
	return prefix + "nonce:" + identity + ":" + strconv.FormatUint(nonce, 10)
}
