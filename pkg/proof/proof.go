// Package proof defines IntentProof and its versioned binary encoding.
//
// Layout:
//
//	"ZKIP" | version (1 byte) | protobuf wire fields
//	  1: key_id     bytes (8)
//	  2: commitment bytes (32)
//	  3: nonce      fixed64
//	  4: proof      bytes (compressed Ar | Bs | Krs)
package proof

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"google.golang.org/protobuf/encoding/protowire"
)

const Version byte = 1

var MagicHeader = []byte{0x5a, 0x4b, 0x49, 0x50} // "ZKIP"

const (
	fieldKeyID      protowire.Number = 1
	fieldCommitment protowire.Number = 2
	fieldNonce      protowire.Number = 3
	fieldProof      protowire.Number = 4
)

var (
	ErrBadMagic           = errors.New("invalid intent proof magic header")
	ErrUnsupportedVersion = errors.New("unsupported intent proof version")
	ErrMalformed          = errors.New("malformed intent proof")
)

// IntentProof is a Groth16 proof bound to one commitment and nonce.
type IntentProof struct {
	KeyID      keys.KeyID
	Commitment crypto.Commitment
	Nonce      uint64
	Proof      []byte
}

// Marshal encodes p in the current wire version.
func (p *IntentProof) Marshal() []byte {
	b := make([]byte, 0, len(MagicHeader)+1+8+32+8+len(p.Proof)+12)
	b = append(b, MagicHeader...)
	b = append(b, Version)
	b = protowire.AppendTag(b, fieldKeyID, protowire.BytesType)
	b = protowire.AppendBytes(b, p.KeyID[:])
	b = protowire.AppendTag(b, fieldCommitment, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Commitment[:])
	b = protowire.AppendTag(b, fieldNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, p.Nonce)
	b = protowire.AppendTag(b, fieldProof, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Proof)
	return b
}

// Unmarshal decodes data. Every field must appear exactly once; unknown
// fields are rejected so a layout change cannot be misread.
func Unmarshal(data []byte) (*IntentProof, error) {
	if len(data) < len(MagicHeader)+1 || !bytes.Equal(data[:len(MagicHeader)], MagicHeader) {
		return nil, ErrBadMagic
	}
	if v := data[len(MagicHeader)]; v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	p := &IntentProof{}
	seen := map[protowire.Number]bool{}
	b := data[len(MagicHeader)+1:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if seen[num] {
			return nil, fmt.Errorf("%w: duplicate field %d", ErrMalformed, num)
		}
		seen[num] = true

		switch {
		case num == fieldNonce && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			p.Nonce = v
			b = b[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			if err := p.setBytesField(num, v); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unexpected field %d type %d", ErrMalformed, num, typ)
		}
	}

	for _, f := range []protowire.Number{fieldKeyID, fieldCommitment, fieldNonce, fieldProof} {
		if !seen[f] {
			return nil, fmt.Errorf("%w: missing field %d", ErrMalformed, f)
		}
	}
	return p, nil
}

func (p *IntentProof) setBytesField(num protowire.Number, v []byte) error {
	switch num {
	case fieldKeyID:
		if len(v) != len(p.KeyID) {
			return fmt.Errorf("%w: key id length %d", ErrMalformed, len(v))
		}
		copy(p.KeyID[:], v)
	case fieldCommitment:
		if len(v) != len(p.Commitment) {
			return fmt.Errorf("%w: commitment length %d", ErrMalformed, len(v))
		}
		copy(p.Commitment[:], v)
	case fieldProof:
		p.Proof = bytes.Clone(v)
	default:
		return fmt.Errorf("%w: unexpected field %d", ErrMalformed, num)
	}
	return nil
}

// WriteFile writes the encoded proof to path.
func (p *IntentProof) WriteFile(path string) error {
	if err := os.WriteFile(path, p.Marshal(), 0o644); err != nil {
		return fmt.Errorf("failed to write proof file: %w", err)
	}
	return nil
}

// ReadFile reads and parses a proof file.
func ReadFile(path string) (*IntentProof, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
