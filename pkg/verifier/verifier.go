package verifier

import (
	"errors"
	"fmt"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/circuit"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/rs/zerolog"
)

var (
	ErrMissingProof           = errors.New("no proof present")
	ErrKeyMismatch            = errors.New("proof was generated for a different verifying key")
	ErrNonCanonicalCommitment = errors.New("commitment is not a field element")
	ErrInvalidProof           = errors.New("proof does not verify")
)

type ZkResult struct {
	Valid       bool
	Error       string
	ProofTimeMs float64
}

// Verifier checks intent proofs against one verifying key. It keeps no
// state between calls and does no I/O.
type Verifier struct {
	vk    groth16.VerifyingKey
	keyID keys.KeyID
	log   zerolog.Logger
}

type Option func(*Verifier)

func WithLogger(l zerolog.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

func NewVerifier(vk groth16.VerifyingKey, opts ...Option) (*Verifier, error) {
	id, err := keys.Fingerprint(vk)
	if err != nil {
		return nil, err
	}
	v := &Verifier{vk: vk, keyID: id, log: zerolog.Nop()}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// FromMaterial builds a verifier from loaded key material.
func FromMaterial(m *keys.Material, opts ...Option) *Verifier {
	v := &Verifier{vk: m.VK, keyID: m.KeyID, log: zerolog.Nop()}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Verifier) KeyID() keys.KeyID {
	return v.keyID
}

// Verify reports whether p is a valid proof for its own commitment.
func (v *Verifier) Verify(p *proof.IntentProof) bool {
	if err := v.Check(p); err != nil {
		v.log.Debug().Err(err).Msg("intent proof rejected")
		return false
	}
	return true
}

// Check is Verify with the rejection reason.
func (v *Verifier) Check(p *proof.IntentProof) error {
	if p == nil {
		return ErrMissingProof
	}
	if p.KeyID != v.keyID {
		return fmt.Errorf("%w: got %s, want %s", ErrKeyMismatch, p.KeyID, v.keyID)
	}
	if !p.Commitment.IsCanonical() {
		return ErrNonCanonicalCommitment
	}

	gp, err := proof.DecodePoints(p.Proof)
	if err != nil {
		return err
	}

	// The public witness is rebuilt from the commitment the proof carries;
	// nothing else from the caller reaches the pairing check.
	w, err := frontend.NewWitness(circuit.PublicAssignment(p.Commitment), ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	if err := groth16.Verify(gp, v.vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// VerifyTimed runs Check and reports how long it took.
func (v *Verifier) VerifyTimed(p *proof.IntentProof) ZkResult {
	start := time.Now()
	err := v.Check(p)
	elapsed := time.Since(start).Seconds() * 1000
	if err != nil {
		return ZkResult{Valid: false, Error: err.Error(), ProofTimeMs: elapsed}
	}
	return ZkResult{Valid: true, ProofTimeMs: elapsed}
}
