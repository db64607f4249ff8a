// Package keystest shares one in-memory key setup across a test binary.
package keystest

import (
	"sync"
	"testing"

	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/logging"
)

var (
	once     sync.Once
	material *keys.Material
	setupErr error
)

// Material returns key material generated once per test binary.
func Material(tb testing.TB) *keys.Material {
	tb.Helper()
	once.Do(func() {
		logging.Silence()
		material, setupErr = keys.Setup()
	})
	if setupErr != nil {
		tb.Fatalf("key setup: %v", setupErr)
	}
	return material
}
