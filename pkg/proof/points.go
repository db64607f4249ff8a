package proof

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

const (
	g1Size = bn254.SizeOfG1AffineCompressed
	g2Size = bn254.SizeOfG2AffineCompressed

	// PointsSize is the exact length of an encoded Groth16 proof.
	PointsSize = 2*g1Size + g2Size
)

// EncodePoints serializes the three proof points in compressed form. The
// intent circuit has no commitment extensions, so proofs carrying any are
// refused.
func EncodePoints(p groth16.Proof) ([]byte, error) {
	bp, ok := p.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("unsupported proof type %T", p)
	}
	if len(bp.Commitments) != 0 {
		return nil, fmt.Errorf("unexpected proof commitments: %d", len(bp.Commitments))
	}
	out := make([]byte, 0, PointsSize)
	ar := bp.Ar.Bytes()
	bs := bp.Bs.Bytes()
	krs := bp.Krs.Bytes()
	out = append(out, ar[:]...)
	out = append(out, bs[:]...)
	out = append(out, krs[:]...)
	return out, nil
}

// DecodePoints is the inverse of EncodePoints. Each point is checked to be
// on the curve and in the prime-order subgroup.
func DecodePoints(b []byte) (groth16.Proof, error) {
	if len(b) != PointsSize {
		return nil, fmt.Errorf("%w: proof length %d, want %d", ErrMalformed, len(b), PointsSize)
	}
	p := &groth16bn254.Proof{}
	if _, err := p.Ar.SetBytes(b[:g1Size]); err != nil {
		return nil, fmt.Errorf("%w: Ar: %v", ErrMalformed, err)
	}
	if _, err := p.Bs.SetBytes(b[g1Size : g1Size+g2Size]); err != nil {
		return nil, fmt.Errorf("%w: Bs: %v", ErrMalformed, err)
	}
	if _, err := p.Krs.SetBytes(b[g1Size+g2Size:]); err != nil {
		return nil, fmt.Errorf("%w: Krs: %v", ErrMalformed, err)
	}
	return p, nil
}
