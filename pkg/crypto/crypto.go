package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

const (
	// ChunkSize is the number of bytes packed into one field element. 31
	// bytes always fit below the BN254 scalar modulus.
	ChunkSize = 31

	MaxIntentBytes   = 256
	MaxIdentityBytes = 64

	IntentChunks   = (MaxIntentBytes + ChunkSize - 1) / ChunkSize
	IdentityChunks = (MaxIdentityBytes + ChunkSize - 1) / ChunkSize

	domainTag = "veil.intent.commit.v1"
)

var (
	// SNARK_FIELD_SIZE is the size of the BN254 scalar field
	SNARK_FIELD_SIZE = fr.Modulus()
)

// Commitment is the big-endian encoding of a BN254 scalar field element.
type Commitment [32]byte

func (c Commitment) Hex() string {
	return hex.EncodeToString(c[:])
}

func (c Commitment) String() string {
	return c.Hex()
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *Commitment) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(c) {
		return fmt.Errorf("commitment must be %d hex characters", 2*len(c))
	}
	_, err := hex.Decode(c[:], text)
	return err
}

// Element decodes the commitment, failing if it is not a canonical field
// element.
func (c Commitment) Element() (fr.Element, error) {
	return fr.BigEndian.Element((*[32]byte)(&c))
}

// BigInt returns the commitment as an integer without range checking.
func (c Commitment) BigInt() *big.Int {
	return new(big.Int).SetBytes(c[:])
}

// IsCanonical reports whether c is strictly below the field modulus.
func (c Commitment) IsCanonical() bool {
	_, err := c.Element()
	return err == nil
}

// DomainTag returns the field element that prefixes every commitment
// preimage.
func DomainTag() fr.Element {
	var e fr.Element
	e.SetBytes([]byte(domainTag))
	return e
}

// Commit binds intent, identity and nonce into a single commitment:
//
//	MiMC(tag, len(intent), len(identity), nonce, intent chunks, identity chunks)
//
// Lengths are hashed before the data so shifting bytes between the two
// buffers always changes the preimage. Inputs larger than the circuit
// capacities still commit; they just cannot be proven.
func Commit(intent, identity []byte, nonce uint64) Commitment {
	h := mimc.NewMiMC()
	for _, e := range Elements(intent, identity, nonce) {
		b := e.Bytes()
		// canonical elements never fail the modulus check
		_, _ = h.Write(b[:])
	}
	var out Commitment
	copy(out[:], h.Sum(nil))
	return out
}

// Elements returns the ordered hash preimage of a commitment.
func Elements(intent, identity []byte, nonce uint64) []fr.Element {
	elems := make([]fr.Element, 4, 4+IntentChunks+IdentityChunks)
	elems[0] = DomainTag()
	elems[1].SetUint64(uint64(len(intent)))
	elems[2].SetUint64(uint64(len(identity)))
	elems[3].SetUint64(nonce)
	elems = append(elems, Chunks(intent, IntentChunks)...)
	elems = append(elems, Chunks(identity, IdentityChunks)...)
	return elems
}

// Chunks splits data into big-endian 31-byte field elements, zero padded on
// the right, returning at least minChunks elements.
func Chunks(data []byte, minChunks int) []fr.Element {
	n := (len(data) + ChunkSize - 1) / ChunkSize
	if n < minChunks {
		n = minChunks
	}
	out := make([]fr.Element, n)
	for i := range out {
		var block [ChunkSize]byte
		start := i * ChunkSize
		if start < len(data) {
			copy(block[:], data[start:])
		}
		out[i].SetBytes(block[:])
	}
	return out
}

// Sha256 returns the byte slice of the SHA256 hash of the input
func Sha256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// Sha256Hex returns the hex string of the SHA256 hash of the input
func Sha256Hex(data []byte) string {
	return hex.EncodeToString(Sha256(data))
}
