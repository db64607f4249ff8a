// Package engine executes authorized commands. It is the only component
// that touches the nonce ledger, the backends and the attestation store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/attest"
	"github.com/Stygian-Inc/intent-veil-go/pkg/backend"
	"github.com/Stygian-Inc/intent-veil-go/pkg/channel"
	"github.com/Stygian-Inc/intent-veil-go/pkg/command"
	"github.com/Stygian-Inc/intent-veil-go/pkg/nonce"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProofChecker is satisfied by *verifier.Verifier.
type ProofChecker interface {
	Check(p *proof.IntentProof) error
}

// Queue reports how many commands are waiting.
type Queue interface {
	QueueDepth() int
}

// BlockProducer is implemented by ledgers that seal blocks on demand.
type BlockProducer interface {
	ProduceBlock() backend.Block
}

type Status struct {
	QueueDepth  int    `json:"queue_depth"`
	Peers       int    `json:"peers"`
	ChainHeight uint64 `json:"chain_height"`
	MempoolSize int    `json:"mempool_size"`
}

type Engine struct {
	verifier     ProofChecker
	nonces       nonce.Ledger
	commitments  nonce.Ledger
	backends     backend.Set
	attestations attest.Store
	log          zerolog.Logger
	now          func() time.Time
	queue        atomic.Value
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCommitmentLedger sets where spent commitments are recorded. A proof
// binds its nonce only through the commitment, so each commitment may
// authorize one command regardless of the nonce field it travels with.
func WithCommitmentLedger(l nonce.Ledger) Option {
	return func(e *Engine) { e.commitments = l }
}

func WithQueue(q Queue) Option {
	return func(e *Engine) { e.queue.Store(q) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(v ProofChecker, nonces nonce.Ledger, backends backend.Set, store attest.Store, opts ...Option) *Engine {
	e := &Engine{
		verifier:     v,
		nonces:       nonces,
		commitments:  nonce.NewMemoryLedger(),
		backends:     backends,
		attestations: store,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run processes commands one at a time until ctx is cancelled, the channel
// is closed, or a Shutdown command has been answered.
func (e *Engine) Run(ctx context.Context, ch *channel.Channel) error {
	if e.queue.Load() == nil {
		e.queue.Store(Queue(ch))
	}
	e.log.Info().Int("capacity", ch.Capacity()).Msg("engine started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch.Done():
			return nil
		case req := <-ch.Requests():
			res := e.Handle(ctx, req)
			ch.Respond(res)
			if _, ok := req.Command.(command.Shutdown); ok {
				if _, ok := res.(command.Success); ok {
					e.log.Info().Str("command_id", req.ID).Msg("engine stopping on shutdown command")
					return nil
				}
			}
		}
	}
}

// Serve runs the command loop and, if the ledger supports it, periodic
// block production. Both stop when either stops.
func (e *Engine) Serve(ctx context.Context, ch *channel.Channel, blockInterval time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return e.Run(loopCtx, ch)
	})
	g.Go(func() error {
		err := e.RunBlockProducer(loopCtx, blockInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}

// RunBlockProducer seals a block every interval until ctx is done.
func (e *Engine) RunBlockProducer(ctx context.Context, interval time.Duration) error {
	bp, ok := e.backends.Ledger.(BlockProducer)
	if !ok || interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b := bp.ProduceBlock()
			e.log.Debug().Uint64("height", b.Height).Int("txs", len(b.TxHashes)).Msg("block produced")
		}
	}
}

// Handle runs one request through proof check, nonce check, dispatch and
// attestation. Every failure becomes a command.Failure.
func (e *Engine) Handle(ctx context.Context, req command.Request) command.Result {
	if req.Command == nil {
		return command.Failure{ID: req.ID, Error: "empty command"}
	}
	kind := req.Command.Kind()
	log := e.log.With().Str("command_id", req.ID).Str("kind", string(kind)).Logger()

	if kind.RequiresProof() {
		if res := e.authorize(ctx, log, req); res != nil {
			return res
		}
	}

	msg, data, err := e.dispatch(ctx, req)
	if err != nil {
		recoverable := !backend.IsNonRecoverable(err)
		log.Info().Err(err).Bool("recoverable", recoverable).Msg("dispatch failed")
		return command.Failure{ID: req.ID, Error: err.Error(), Recoverable: recoverable}
	}

	res := command.Success{ID: req.ID, Message: msg, Data: data}
	if kind.RequiresProof() {
		if err := e.attest(ctx, req, data); err != nil {
			log.Warn().Err(err).Str("event", "attestation_pending").Str("commitment", req.Proof.Commitment.Hex()).Msg("effect applied without attestation")
			res.AttestationPending = true
			res.Warning = "attestation pending"
		}
	}
	return res
}

func (e *Engine) authorize(ctx context.Context, log zerolog.Logger, req command.Request) command.Result {
	if req.Proof == nil {
		log.Warn().Str("event", "missing_proof").Str("identity", req.Identity).Msg("mutating command without proof")
		return command.Failure{ID: req.ID, Error: command.ReasonMissingProof}
	}
	if err := e.verifier.Check(req.Proof); err != nil {
		log.Warn().Err(err).Str("event", "proof_rejected").Str("identity", req.Identity).Str("commitment", req.Proof.Commitment.Hex()).Msg("proof verification failed")
		return command.Failure{ID: req.ID, Error: command.ReasonInvalidProof}
	}

	// The nonce label is not bound by the proof, so it is only consumed
	// once the commitment itself has been accepted.
	spent, err := e.nonces.Spent(ctx, req.Identity, req.Proof.Nonce)
	if err != nil {
		log.Error().Err(err).Msg("nonce ledger unavailable")
		return command.Failure{ID: req.ID, Error: "nonce ledger unavailable", Recoverable: true}
	}
	fresh := !spent
	if fresh {
		fresh, err = e.commitments.CheckAndConsume(ctx, req.Proof.Commitment.Hex(), 0)
		if err != nil {
			log.Error().Err(err).Msg("commitment ledger unavailable")
			return command.Failure{ID: req.ID, Error: "nonce ledger unavailable", Recoverable: true}
		}
	}
	if fresh {
		fresh, err = e.nonces.CheckAndConsume(ctx, req.Identity, req.Proof.Nonce)
		if err != nil {
			log.Error().Err(err).Msg("nonce ledger unavailable")
			return command.Failure{ID: req.ID, Error: "nonce ledger unavailable", Recoverable: true}
		}
	}
	if !fresh {
		log.Warn().Str("event", "replay_rejected").Str("identity", req.Identity).Uint64("nonce", req.Proof.Nonce).Msg("replayed authorization")
		return command.Failure{ID: req.ID, Error: command.ReasonReplay}
	}
	return nil
}

func (e *Engine) attest(ctx context.Context, req command.Request, data map[string]any) error {
	if e.attestations == nil {
		return errors.New("no attestation store configured")
	}
	hash, err := attest.ResultHash(data)
	if err != nil {
		return err
	}
	return e.attestations.Append(ctx, attest.Attestation{
		CommandID:  req.ID,
		Identity:   req.Identity,
		Commitment: req.Proof.Commitment,
		ResultHash: hash,
		Timestamp:  e.now().UTC(),
	})
}

// Status snapshots the pipeline.
func (e *Engine) Status(ctx context.Context) Status {
	var s Status
	if q, ok := e.queue.Load().(Queue); ok && q != nil {
		s.QueueDepth = q.QueueDepth()
	}
	if e.backends.Broadcaster != nil {
		s.Peers = e.backends.Broadcaster.Peers(ctx)
	}
	if e.backends.Ledger != nil {
		s.ChainHeight = e.backends.Ledger.Height()
		s.MempoolSize = e.backends.Ledger.MempoolSize()
	}
	return s
}

func unavailable(capability string) error {
	return backend.Permanent(fmt.Errorf("%s backend not configured", capability))
}
