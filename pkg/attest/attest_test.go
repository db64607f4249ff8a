package attest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAttestation(id string, c crypto.Commitment) Attestation {
	return Attestation{
		CommandID:  id,
		Identity:   "did:example:user1",
		Commitment: c,
		ResultHash: crypto.Sha256Hex([]byte(id)),
		Timestamp:  time.Unix(1700000000, 42).UTC(),
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	c1 := crypto.Commit([]byte("one"), []byte("did:a"), 1)
	c2 := crypto.Commit([]byte("two"), []byte("did:a"), 2)

	require.NoError(t, s.Append(ctx, sampleAttestation("cmd-1", c1)))
	require.NoError(t, s.Append(ctx, sampleAttestation("cmd-2", c2)))
	assert.Error(t, s.Append(ctx, sampleAttestation("cmd-1", c1)), "append-only: ids are unique")

	got, err := s.ByCommitment(ctx, c1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sampleAttestation("cmd-1", c1), got[0])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "attest.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "postgres", "")
	assert.Error(t, err)
}

func TestSQLStoreAppendFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS attestations").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStore(context.Background(), db, DriverMySQL)
	require.NoError(t, err)

	a := sampleAttestation("cmd-1", crypto.Commit(nil, []byte("x"), 0))
	mock.ExpectExec("INSERT INTO attestations").
		WithArgs(a.CommandID, a.Identity, a.Commitment.Hex(), a.ResultHash, a.Timestamp.UnixNano()).
		WillReturnError(errors.New("disk full"))

	err = s.Append(context.Background(), a)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("denied"))
	_, err = NewSQLStore(context.Background(), db, DriverSQLite)
	assert.ErrorContains(t, err, "denied")
}

func TestResultHashIsCanonical(t *testing.T) {
	a, err := ResultHash(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := ResultHash(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty, err := ResultHash(nil)
	require.NoError(t, err)
	assert.Equal(t, crypto.Sha256Hex([]byte("{}")), empty)
}

func TestResultHashKeepsLargeIntegers(t *testing.T) {
	a, err := ResultHash(map[string]any{"output": []uint64{1 << 62}})
	require.NoError(t, err)
	b, err := ResultHash(map[string]any{"output": []uint64{1<<62 + 1}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c, err := ResultHash(map[string]any{"balance": uint64(1<<64 - 1)})
	require.NoError(t, err)
	d, err := ResultHash(map[string]any{"balance": uint64(1<<64 - 2)})
	require.NoError(t, err)
	assert.NotEqual(t, c, d)

	// fractions are left to the canonical number form
	_, err = ResultHash(map[string]any{"ratio": 0.5})
	require.NoError(t, err)
}

func TestResultHashDistinguishesIntegers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct amounts hash differently", prop.ForAll(
		func(x, y uint64) bool {
			if x == y {
				return true
			}
			a, errA := ResultHash(map[string]any{"amount": x})
			b, errB := ResultHash(map[string]any{"amount": y})
			return errA == nil && errB == nil && a != b
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
