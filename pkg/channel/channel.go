// Package channel carries commands from the gateway to the engine and
// results back, matched by correlation id.
//
// The request queue is bounded. A full queue blocks the sender until space
// frees up or the call's deadline passes; the deadline covers both enqueue
// and the wait for a result. Nothing is persisted: a crash drops whatever is
// in flight.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultCapacity = 256
	DefaultTimeout  = 30 * time.Second
)

var ErrClosed = errors.New("channel closed")

type Channel struct {
	requests chan command.Request
	done     chan struct{}
	timeout  time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]chan command.Result
}

type Option func(*Channel)

func WithTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

func New(capacity int, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Channel{
		requests: make(chan command.Request, capacity),
		done:     make(chan struct{}),
		timeout:  DefaultTimeout,
		log:      zerolog.Nop(),
		pending:  make(map[string]chan command.Result),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call sends req with a fresh correlation id and waits for its result. It
// never returns an error: timeouts and closure come back as recoverable
// failures. A timed-out command may still be executed by the engine.
func (c *Channel) Call(ctx context.Context, req command.Request) command.Result {
	req.ID = uuid.NewString()

	wait, err := c.register(req.ID)
	if err != nil {
		return command.Failure{ID: req.ID, Error: command.ReasonChannelClosed, Recoverable: true}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.requests <- req:
	case <-ctx.Done():
		c.forget(req.ID)
		return c.abandoned(ctx, req.ID)
	case <-c.done:
		c.forget(req.ID)
		return command.Failure{ID: req.ID, Error: command.ReasonChannelClosed, Recoverable: true}
	}

	select {
	case res := <-wait:
		return res
	case <-ctx.Done():
		c.forget(req.ID)
		return c.abandoned(ctx, req.ID)
	}
}

// Requests is the engine side of the queue.
func (c *Channel) Requests() <-chan command.Request {
	return c.requests
}

// Done is closed by Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Respond delivers res to the caller waiting on its id. It reports false
// when nobody is waiting any more; the result is then dropped.
func (c *Channel) Respond(res command.Result) bool {
	c.mu.Lock()
	wait, ok := c.pending[res.CorrelationID()]
	delete(c.pending, res.CorrelationID())
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("command_id", res.CorrelationID()).Msg("dropping late response")
		return false
	}
	wait <- res
	return true
}

// QueueDepth is the number of requests waiting for the engine.
func (c *Channel) QueueDepth() int {
	return len(c.requests)
}

func (c *Channel) Capacity() int {
	return cap(c.requests)
}

// Close fails every outstanding call. Requests still queued are never
// answered.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	for id, wait := range c.pending {
		wait <- command.Failure{ID: id, Error: command.ReasonChannelClosed, Recoverable: true}
		delete(c.pending, id)
	}
	return nil
}

func (c *Channel) register(id string) (chan command.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	wait := make(chan command.Result, 1)
	c.pending[id] = wait
	return wait, nil
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) abandoned(ctx context.Context, id string) command.Result {
	reason := command.ReasonTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		reason = "cancelled"
	}
	c.log.Warn().Str("command_id", id).Str("reason", reason).Msg("call abandoned")
	return command.Failure{ID: id, Error: reason, Recoverable: true}
}
