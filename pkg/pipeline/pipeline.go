// Package pipeline assembles a complete in-process pipeline from a
// config.Config: key material, drivers, engine and gateway.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Stygian-Inc/intent-veil-go/pkg/attest"
	"github.com/Stygian-Inc/intent-veil-go/pkg/backend"
	"github.com/Stygian-Inc/intent-veil-go/pkg/channel"
	"github.com/Stygian-Inc/intent-veil-go/pkg/config"
	"github.com/Stygian-Inc/intent-veil-go/pkg/engine"
	"github.com/Stygian-Inc/intent-veil-go/pkg/gateway"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/nonce"
	"github.com/Stygian-Inc/intent-veil-go/pkg/prover"
	"github.com/Stygian-Inc/intent-veil-go/pkg/verifier"
	"github.com/rs/zerolog"
)

type Pipeline struct {
	Keys         *keys.Material
	Prover       *prover.Prover
	Verifier     *verifier.Verifier
	Channel      *channel.Channel
	Engine       *engine.Engine
	Gateway      *gateway.Gateway
	Ledger       *backend.MemoryLedger
	Attestations attest.Store

	cfg     *config.Config
	log     zerolog.Logger
	closers []func() error
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Build loads or generates key material under cfg.Keys.Dir and wires the
// pipeline around it.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pipeline, error) {
	m, err := keys.LoadOrSetup(cfg.Keys.Dir, log)
	if err != nil {
		return nil, err
	}
	return BuildWithKeys(ctx, cfg, m, log)
}

func BuildWithKeys(ctx context.Context, cfg *config.Config, m *keys.Material, log zerolog.Logger) (*Pipeline, error) {
	p := &Pipeline{Keys: m, cfg: cfg, log: log}

	if err := p.build(ctx); err != nil {
		_ = p.closeAll()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) build(ctx context.Context) error {
	cfg := p.cfg

	nonces, commitments, counter, err := p.nonceLedgers(ctx)
	if err != nil {
		return err
	}

	switch cfg.Attestation.Driver {
	case "memory":
		p.Attestations = attest.NewMemoryStore()
	default:
		store, err := attest.OpenSQLStore(ctx, cfg.Attestation.Driver, cfg.Attestation.DSN)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, store.Close)
		p.Attestations = store
	}

	var bcast backend.Broadcaster
	switch cfg.Broadcast.Driver {
	case "redis":
		rb, err := backend.NewRedisBroadcaster(cfg.Broadcast.RedisURL, cfg.Broadcast.Prefix)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, rb.Close)
		bcast = rb
	default:
		bcast = backend.NewMemoryBroadcaster(cfg.Broadcast.Peers)
	}

	storage := backend.NewMemoryStorage()
	sched := backend.NewWasmScheduler(ctx, storage, cfg.Scheduler.MemoryLimitPages, cfg.Scheduler.DefaultLimit)
	p.closers = append(p.closers, sched.Close)

	p.Ledger = backend.NewMemoryLedger(cfg.Ledger.Genesis)

	p.Verifier = verifier.FromMaterial(p.Keys, verifier.WithLogger(p.log))
	p.Prover = prover.NewProver(p.Keys, prover.WithLogger(p.log))
	p.Channel = channel.New(cfg.Channel.Capacity, channel.WithTimeout(cfg.Channel.Timeout), channel.WithLogger(p.log))
	p.closers = append(p.closers, p.Channel.Close)

	p.Engine = engine.New(p.Verifier, nonces,
		backend.Set{Storage: storage, Ledger: p.Ledger, Broadcaster: bcast, Scheduler: sched},
		p.Attestations,
		engine.WithLogger(p.log.With().Str("component", "engine").Logger()),
		engine.WithCommitmentLedger(commitments),
		engine.WithQueue(p.Channel),
	)
	p.Gateway = gateway.New(p.Prover, p.Channel,
		gateway.WithLogger(p.log.With().Str("component", "gateway").Logger()),
		gateway.WithHistorySize(cfg.Gateway.HistorySize),
		gateway.WithMinConfidence(cfg.Gateway.MinConfidence),
		gateway.WithCounter(counter),
	)
	return nil
}

// nonceLedgers returns the engine's nonce and commitment ledgers and the
// gateway's counter. With redis all three outlive the process.
func (p *Pipeline) nonceLedgers(ctx context.Context) (nonce.Ledger, nonce.Ledger, nonce.Counter, error) {
	cfg := p.cfg.Nonce
	if cfg.Driver != "redis" {
		return nonce.NewMemoryLedger(), nonce.NewMemoryLedger(), nonce.NewMemoryCounter(), nil
	}
	nonces, err := nonce.NewRedisLedger(cfg.RedisURL, cfg.Prefix)
	if err != nil {
		return nil, nil, nil, err
	}
	p.closers = append(p.closers, nonces.Close)
	if err := nonces.Ping(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("nonce ledger unreachable: %w", err)
	}
	commitments, err := nonce.NewRedisLedger(cfg.RedisURL, cfg.Prefix+"commitment:")
	if err != nil {
		return nil, nil, nil, err
	}
	p.closers = append(p.closers, commitments.Close)
	counter, err := nonce.NewRedisCounter(cfg.RedisURL, cfg.Prefix)
	if err != nil {
		return nil, nil, nil, err
	}
	p.closers = append(p.closers, counter.Close)
	return nonces, commitments, counter, nil
}

// Start runs the engine in the background until Close or a Shutdown
// command.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.err = p.Engine.Serve(ctx, p.Channel, p.cfg.Ledger.BlockInterval)
	}()
	p.log.Info().
		Str("key_id", p.Keys.KeyID.String()).
		Str("nonce_driver", p.cfg.Nonce.Driver).
		Str("attestation_driver", p.cfg.Attestation.Driver).
		Str("broadcast_driver", p.cfg.Broadcast.Driver).
		Msg("pipeline started")
}

// Done is closed once the engine stops.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Close stops the engine and releases every driver.
func (p *Pipeline) Close() error {
	var errs []error
	if p.cancel != nil {
		p.cancel()
		<-p.done
		if p.err != nil && !errors.Is(p.err, context.Canceled) {
			errs = append(errs, p.err)
		}
		p.cancel = nil
	}
	errs = append(errs, p.closeAll())
	return errors.Join(errs...)
}

func (p *Pipeline) closeAll() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
