// Package keys owns the Groth16 key material for the intent circuit: the
// one-time setup, its persistence, and loading it back on later starts.
package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/circuit"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"
)

const (
	ProvingKeyFile   = "intent.pk"
	VerifyingKeyFile = "intent.vk"
)

var (
	ErrPartialKeyMaterial = errors.New("key material incomplete")
	ErrKeyMaterialCorrupt = errors.New("key material corrupt")
)

// KeyID fingerprints a verifying key. Proofs carry it so a key rotation is
// detected before any pairing check.
type KeyID [8]byte

func (k KeyID) String() string {
	return hex.EncodeToString(k[:])
}

// Material is everything the prover and verifier need. The verifier side
// only ever reads VK and KeyID.
type Material struct {
	CCS   constraint.ConstraintSystem
	PK    groth16.ProvingKey
	VK    groth16.VerifyingKey
	KeyID KeyID
}

// Compile builds the constraint system for the intent circuit.
func Compile() (constraint.ConstraintSystem, error) {
	var c circuit.IntentCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Setup runs a fresh trusted setup in memory.
func Setup() (*Material, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	id, err := fingerprint(vk)
	if err != nil {
		return nil, err
	}
	return &Material{CCS: ccs, PK: pk, VK: vk, KeyID: id}, nil
}

// LoadOrSetup loads the key pair from dir, or runs setup and persists it
// when neither file exists. A lone or unreadable file is an error: the
// caller must not continue without valid keys.
func LoadOrSetup(dir string, log zerolog.Logger) (*Material, error) {
	pkPath := filepath.Join(dir, ProvingKeyFile)
	vkPath := filepath.Join(dir, VerifyingKeyFile)

	pkExists, err := exists(pkPath)
	if err != nil {
		return nil, err
	}
	vkExists, err := exists(vkPath)
	if err != nil {
		return nil, err
	}

	switch {
	case pkExists && vkExists:
		m, err := Load(dir)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", dir).Str("key_id", m.KeyID.String()).Msg("loaded key material")
		return m, nil
	case pkExists || vkExists:
		return nil, fmt.Errorf("%w: only one of %s, %s present in %s", ErrPartialKeyMaterial, ProvingKeyFile, VerifyingKeyFile, dir)
	}

	start := time.Now()
	m, err := Setup()
	if err != nil {
		return nil, err
	}
	if err := m.Save(dir); err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Str("key_id", m.KeyID.String()).Dur("took", time.Since(start)).Msg("generated key material")
	return m, nil
}

// Load reads both keys from dir. It never generates keys.
func Load(dir string) (*Material, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}

	pk := groth16.NewProvingKey(ecc.BN254)
	if err := readKey(filepath.Join(dir, ProvingKeyFile), pk); err != nil {
		return nil, err
	}
	vk, err := LoadVerifyingKey(filepath.Join(dir, VerifyingKeyFile))
	if err != nil {
		return nil, err
	}
	id, err := fingerprint(vk)
	if err != nil {
		return nil, err
	}
	return &Material{CCS: ccs, PK: pk, VK: vk, KeyID: id}, nil
}

// LoadVerifyingKey loads a Gnark native binary verification key
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := readKey(path, vk); err != nil {
		return nil, err
	}
	return vk, nil
}

// Save writes both keys into dir, each through a temporary file so a crash
// never leaves a truncated key behind.
func (m *Material) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create key dir: %w", err)
	}
	if err := writeKey(filepath.Join(dir, ProvingKeyFile), m.PK); err != nil {
		return err
	}
	return writeKey(filepath.Join(dir, VerifyingKeyFile), m.VK)
}

// Fingerprint returns the KeyID of an arbitrary verifying key.
func Fingerprint(vk groth16.VerifyingKey) (KeyID, error) {
	return fingerprint(vk)
}

func fingerprint(vk groth16.VerifyingKey) (KeyID, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return KeyID{}, fmt.Errorf("failed to serialize vk: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	var id KeyID
	copy(id[:], sum[:len(id)])
	return id, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func readKey(path string, key io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	defer f.Close()

	if _, err := key.ReadFrom(f); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrKeyMaterialCorrupt, filepath.Base(path), err)
	}
	return nil
}

func writeKey(path string, key io.WriterTo) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := key.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to persist %s: %w", filepath.Base(path), err)
	}
	return nil
}
