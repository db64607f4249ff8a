package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/circuit"
	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrIntentTooLarge   = fmt.Errorf("intent exceeds %d bytes", crypto.MaxIntentBytes)
	ErrIdentityTooLarge = fmt.Errorf("identity exceeds %d bytes", crypto.MaxIdentityBytes)
	ErrEmptyIdentity    = errors.New("identity is empty")
)

// ProofGenerationError is returned for every failure to produce a proof,
// including inputs rejected before the circuit is touched.
type ProofGenerationError struct {
	Err error
}

func (e *ProofGenerationError) Error() string {
	return "proof generation failed: " + e.Err.Error()
}

func (e *ProofGenerationError) Unwrap() error {
	return e.Err
}

// BenchmarkResult holds timing statistics
type BenchmarkResult struct {
	WitnessTimeMs float64
	ProveTimeMs   float64
}

// Witness is one pending intent for ProveBatch.
type Witness struct {
	Intent   []byte
	Identity []byte
	Nonce    uint64
}

// Prover handles the proof generation process
type Prover struct {
	ccs        constraint.ConstraintSystem
	pk         groth16.ProvingKey
	keyID      keys.KeyID
	log        zerolog.Logger
	batchLimit int
}

type Option func(*Prover)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Prover) { p.log = l }
}

// WithBatchLimit caps how many proofs ProveBatch computes at once.
func WithBatchLimit(n int) Option {
	return func(p *Prover) {
		if n > 0 {
			p.batchLimit = n
		}
	}
}

func NewProver(m *keys.Material, opts ...Option) *Prover {
	p := &Prover{
		ccs:        m.CCS,
		pk:         m.PK,
		keyID:      m.KeyID,
		log:        zerolog.Nop(),
		batchLimit: 4,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Validate checks that the inputs fit the circuit.
func Validate(intent, identity []byte) error {
	switch {
	case len(identity) == 0:
		return &ProofGenerationError{Err: ErrEmptyIdentity}
	case len(identity) > crypto.MaxIdentityBytes:
		return &ProofGenerationError{Err: fmt.Errorf("%w: got %d", ErrIdentityTooLarge, len(identity))}
	case len(intent) > crypto.MaxIntentBytes:
		return &ProofGenerationError{Err: fmt.Errorf("%w: got %d", ErrIntentTooLarge, len(intent))}
	}
	return nil
}

// Prove generates a proof that the caller knows the preimage of
// Commit(intent, identity, nonce).
func (p *Prover) Prove(ctx context.Context, intent, identity []byte, nonce uint64) (*proof.IntentProof, error) {
	if err := Validate(intent, identity); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &ProofGenerationError{Err: err}
	}

	res, out, err := p.prove(intent, identity, nonce)
	if err != nil {
		return nil, err
	}
	p.log.Debug().
		Float64("witness_ms", res.WitnessTimeMs).
		Float64("prove_ms", res.ProveTimeMs).
		Str("commitment", out.Commitment.Hex()).
		Msg("intent proof generated")
	return out, nil
}

// ProveBatch proves several intents concurrently. Results are in input
// order; the first failure cancels the rest.
func (p *Prover) ProveBatch(ctx context.Context, ws []Witness) ([]*proof.IntentProof, error) {
	for _, w := range ws {
		if err := Validate(w.Intent, w.Identity); err != nil {
			return nil, err
		}
	}

	out := make([]*proof.IntentProof, len(ws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchLimit)
	for i, w := range ws {
		g.Go(func() error {
			pr, err := p.Prove(gctx, w.Intent, w.Identity, w.Nonce)
			if err != nil {
				return err
			}
			out[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Benchmark runs one proof and returns its timing.
func (p *Prover) Benchmark(intent, identity []byte, nonce uint64) (*BenchmarkResult, *proof.IntentProof, error) {
	if err := Validate(intent, identity); err != nil {
		return nil, nil, err
	}
	return p.prove(intent, identity, nonce)
}

func (p *Prover) prove(intent, identity []byte, nonce uint64) (*BenchmarkResult, *proof.IntentProof, error) {
	result := &BenchmarkResult{}

	// 1. Create Witness
	start := time.Now()
	assignment := circuit.Assignment(intent, identity, nonce)
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, &ProofGenerationError{Err: fmt.Errorf("witness creation failed: %w", err)}
	}
	result.WitnessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	// 2. Prove
	start = time.Now()
	gp, err := groth16.Prove(p.ccs, p.pk, witness)
	if err != nil {
		return nil, nil, &ProofGenerationError{Err: fmt.Errorf("proving failed: %w", err)}
	}
	result.ProveTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	// 3. Serialize
	points, err := proof.EncodePoints(gp)
	if err != nil {
		return nil, nil, &ProofGenerationError{Err: err}
	}

	return result, &proof.IntentProof{
		KeyID:      p.keyID,
		Commitment: crypto.Commit(intent, identity, nonce),
		Nonce:      nonce,
		Proof:      points,
	}, nil
}
