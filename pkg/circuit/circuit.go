package circuit

import (
	"math/big"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// IntentCircuit proves knowledge of (intent, identity, nonce) whose
// commitment equals the public Commitment.
type IntentCircuit struct {
	// Public inputs
	Commitment frontend.Variable `gnark:",public"`

	// Private inputs
	IntentLen      frontend.Variable
	IdentityLen    frontend.Variable
	Nonce          frontend.Variable
	IntentChunks   [crypto.IntentChunks]frontend.Variable
	IdentityChunks [crypto.IdentityChunks]frontend.Variable
}

// Define declares the circuit constraints
func (c *IntentCircuit) Define(api frontend.API) error {
	// 1. Range checks so every private input has exactly one byte reading
	api.AssertIsLessOrEqual(c.IntentLen, crypto.MaxIntentBytes)
	api.AssertIsLessOrEqual(c.IdentityLen, crypto.MaxIdentityBytes)
	api.ToBinary(c.Nonce, 64)
	for i := range c.IntentChunks {
		api.ToBinary(c.IntentChunks[i], 8*crypto.ChunkSize)
	}
	for i := range c.IdentityChunks {
		api.ToBinary(c.IdentityChunks[i], 8*crypto.ChunkSize)
	}

	// 2. Commitment = MiMC(tag, intentLen, identityLen, nonce, chunks...)
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	tag := crypto.DomainTag()
	h.Write(tag.BigInt(new(big.Int)), c.IntentLen, c.IdentityLen, c.Nonce)
	h.Write(c.IntentChunks[:]...)
	h.Write(c.IdentityChunks[:]...)

	// 3. Constraint
	api.AssertIsEqual(c.Commitment, h.Sum())

	return nil
}

// Assignment builds a full witness assignment. The caller is responsible
// for bounding intent and identity to the circuit capacities.
func Assignment(intent, identity []byte, nonce uint64) *IntentCircuit {
	commitment := crypto.Commit(intent, identity, nonce)
	a := &IntentCircuit{
		Commitment:  commitment.BigInt(),
		IntentLen:   len(intent),
		IdentityLen: len(identity),
		Nonce:       nonce,
	}
	for i, e := range crypto.Chunks(intent, crypto.IntentChunks)[:crypto.IntentChunks] {
		a.IntentChunks[i] = e.BigInt(new(big.Int))
	}
	for i, e := range crypto.Chunks(identity, crypto.IdentityChunks)[:crypto.IdentityChunks] {
		a.IdentityChunks[i] = e.BigInt(new(big.Int))
	}
	return a
}

// PublicAssignment carries only the commitment; private fields are zero.
func PublicAssignment(commitment crypto.Commitment) *IntentCircuit {
	a := &IntentCircuit{
		Commitment:  commitment.BigInt(),
		IntentLen:   0,
		IdentityLen: 0,
		Nonce:       0,
	}
	for i := range a.IntentChunks {
		a.IntentChunks[i] = 0
	}
	for i := range a.IdentityChunks {
		a.IdentityChunks[i] = 0
	}
	return a
}
