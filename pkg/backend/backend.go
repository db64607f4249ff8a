// Package backend defines the capabilities the engine dispatches to, with
// in-process implementations plus Redis and WebAssembly ones.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
)

// ErrNonRecoverable marks a failure that resubmitting cannot fix.
var ErrNonRecoverable = errors.New("non-recoverable")

// Permanent wraps err with ErrNonRecoverable.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrNonRecoverable, err)
}

func IsNonRecoverable(err error) bool {
	return errors.Is(err, ErrNonRecoverable)
}

type Storage interface {
	// Write stores data and returns its content hash.
	Write(ctx context.Context, data []byte, metadata map[string]string) (string, error)
	// Read returns the data for key; found is false if absent.
	Read(ctx context.Context, key string) (data []byte, found bool, err error)
}

type Ledger interface {
	Submit(ctx context.Context, tx command.Transaction) (txHash string, err error)
	QueryBalance(ctx context.Context, identity string) (uint64, error)
	QueryState(ctx context.Context, key string) (value string, found bool, err error)
	Height() uint64
	MempoolSize() int
}

type Broadcaster interface {
	Send(ctx context.Context, topic string, payload []byte) (messageID string, err error)
	Peers(ctx context.Context) int
}

type Scheduler interface {
	Run(ctx context.Context, moduleRef, function string, params []uint64, limit time.Duration) ([]uint64, error)
}

// Set groups the backends one engine dispatches to.
type Set struct {
	Storage     Storage
	Ledger      Ledger
	Broadcaster Broadcaster
	Scheduler   Scheduler
}
