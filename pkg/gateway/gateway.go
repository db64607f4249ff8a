// Package gateway is the single entry point for rendered intents. It owns
// the per-identity nonce counters, proves each mutating intent and relays
// the resulting command to the engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/Stygian-Inc/intent-veil-go/pkg/engine"
	"github.com/Stygian-Inc/intent-veil-go/pkg/intent"
	"github.com/Stygian-Inc/intent-veil-go/pkg/nonce"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/Stygian-Inc/intent-veil-go/pkg/prover"
	"github.com/rs/zerolog"
)

const DefaultHistorySize = 20

// Prover is satisfied by *prover.Prover.
type Prover interface {
	Prove(ctx context.Context, intent, identity []byte, nonce uint64) (*proof.IntentProof, error)
}

// Caller is satisfied by *channel.Channel.
type Caller interface {
	Call(ctx context.Context, req command.Request) command.Result
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// session serializes one identity's mediations so its commands leave in
// nonce order.
type session struct {
	mu sync.Mutex
}

type Gateway struct {
	prover        Prover
	calls         Caller
	log           zerolog.Logger
	now           func() time.Time
	minConfidence float64
	historySize   int
	counter       nonce.Counter

	mu       sync.Mutex
	sessions map[string]*session
	history  []Turn
}

type Option func(*Gateway)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithHistorySize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.historySize = n
		}
	}
}

// WithMinConfidence makes intents below c come back as a clarification
// request instead of being executed.
func WithMinConfidence(c float64) Option {
	return func(g *Gateway) { g.minConfidence = c }
}

// WithCounter sets where the last sent nonce per identity is kept. The
// default is process memory, so counting restarts at 1 with the process.
func WithCounter(c nonce.Counter) Option {
	return func(g *Gateway) { g.counter = c }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(p Prover, calls Caller, opts ...Option) *Gateway {
	g := &Gateway{
		prover:      p,
		calls:       calls,
		log:         zerolog.Nop(),
		now:         time.Now,
		historySize: DefaultHistorySize,
		counter:     nonce.NewMemoryCounter(),
		sessions:    make(map[string]*session),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Mediate executes one intent on behalf of identity and returns what the
// user should see.
func (g *Gateway) Mediate(ctx context.Context, identity string, in intent.ParsedIntent) Manifest {
	return g.mediate(ctx, identity, in, nil)
}

// mediateNonce bypasses the session counter.
func (g *Gateway) mediateNonce(ctx context.Context, identity string, in intent.ParsedIntent, n uint64) Manifest {
	return g.mediate(ctx, identity, in, &n)
}

func (g *Gateway) mediate(ctx context.Context, identity string, in intent.ParsedIntent, fixed *uint64) Manifest {
	g.record(RoleUser, fmt.Sprintf("%s %s", in.Action, summarize(in.Parameters)))
	m := g.execute(ctx, identity, in, fixed)
	g.record(RoleAssistant, m.Text)
	return m
}

func (g *Gateway) execute(ctx context.Context, identity string, in intent.ParsedIntent, fixed *uint64) Manifest {
	log := g.log.With().Str("identity", identity).Str("action", string(in.Action)).Logger()

	if identity == "" {
		return failure("identity required", false)
	}
	if !in.Action.Valid() {
		return failure(fmt.Sprintf("unknown action %q", in.Action), false)
	}
	if in.Confidence < g.minConfidence {
		log.Debug().Float64("confidence", in.Confidence).Msg("asking for clarification")
		return clarify("did you mean " + string(in.Action) + "?")
	}

	cmd, err := Translate(identity, in)
	if err != nil {
		return failure(err.Error(), false)
	}
	req := command.Request{Identity: identity, Command: cmd}

	if !cmd.Kind().RequiresProof() {
		res := g.calls.Call(ctx, req)
		return fromResult(cmd.Kind(), res)
	}

	encoded, err := in.Encode()
	if err != nil {
		return failure("intent not encodable", false)
	}

	s := g.session(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n uint64
	if fixed != nil {
		n = *fixed
	} else {
		last, err := g.counter.Last(ctx, identity)
		if err != nil {
			log.Error().Err(err).Msg("nonce counter unavailable")
			return failure("nonce store unavailable", true)
		}
		n = last + 1
	}

	start := g.now()
	p, err := g.prover.Prove(ctx, encoded, []byte(identity), n)
	if err != nil {
		log.Warn().Err(err).Uint64("nonce", n).Msg("proof generation failed")
		switch {
		case errors.Is(err, prover.ErrIntentTooLarge):
			return failure("intent too large", false)
		case errors.Is(err, prover.ErrIdentityTooLarge):
			return failure("identity too long", false)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return failure("cancelled", true)
		default:
			return failure("could not authorize", true)
		}
	}
	req.Proof = p

	// Once sent the nonce is gone whatever comes back.
	if fixed == nil {
		if err := g.counter.Advance(ctx, identity, n); err != nil {
			log.Error().Err(err).Uint64("nonce", n).Msg("nonce counter unavailable")
			return failure("nonce store unavailable", true)
		}
	}
	res := g.calls.Call(ctx, req)

	log.Info().
		Uint64("nonce", n).
		Str("commitment", p.Commitment.Hex()).
		Dur("elapsed", g.now().Sub(start)).
		Str("result", fmt.Sprintf("%T", res)).
		Msg("intent mediated")
	return fromResult(cmd.Kind(), res)
}

func (g *Gateway) session(identity string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[identity]
	if !ok {
		s = &session{}
		g.sessions[identity] = s
	}
	return s
}

// NextNonce reports the nonce the next mutating intent from identity will
// use.
func (g *Gateway) NextNonce(ctx context.Context, identity string) (uint64, error) {
	s := g.session(identity)
	s.mu.Lock()
	defer s.mu.Unlock()
	last, err := g.counter.Last(ctx, identity)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (g *Gateway) record(role Role, content string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, Turn{Role: role, Content: content, Timestamp: g.now()})
	if over := len(g.history) - g.historySize; over > 0 {
		g.history = append(g.history[:0:0], g.history[over:]...)
	}
}

// History returns the most recent turns, oldest first.
func (g *Gateway) History() []Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Turn(nil), g.history...)
}

// PipelineStatus asks the engine for its status.
func (g *Gateway) PipelineStatus(ctx context.Context) (engine.Status, error) {
	res := g.calls.Call(ctx, command.Request{Command: command.GetStatus{}})
	switch r := res.(type) {
	case command.Success:
		var s engine.Status
		s.QueueDepth, _ = r.Data["queue_depth"].(int)
		s.Peers, _ = r.Data["peers"].(int)
		s.ChainHeight, _ = r.Data["chain_height"].(uint64)
		s.MempoolSize, _ = r.Data["mempool_size"].(int)
		return s, nil
	case command.Failure:
		return engine.Status{}, errors.New(r.Error)
	default:
		return engine.Status{}, fmt.Errorf("unexpected result %T", res)
	}
}
