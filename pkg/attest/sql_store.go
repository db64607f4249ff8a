package attest

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var migrations = map[string]string{
	DriverSQLite: `
	CREATE TABLE IF NOT EXISTS attestations (
		command_id VARCHAR(64) PRIMARY KEY,
		identity VARCHAR(255) NOT NULL,
		commitment CHAR(64) NOT NULL,
		result_hash CHAR(64) NOT NULL,
		created_at BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS attestations_commitment ON attestations (commitment);`,
	DriverMySQL: `
	CREATE TABLE IF NOT EXISTS attestations (
		command_id VARCHAR(64) PRIMARY KEY,
		identity VARCHAR(255) NOT NULL,
		commitment CHAR(64) NOT NULL,
		result_hash CHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		INDEX attestations_commitment (commitment)
	)`,
}

// SQLStore keeps attestations in SQLite or MySQL.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens dsn with the given driver and prepares the schema.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if _, ok := migrations[driver]; !ok {
		return nil, fmt.Errorf("unsupported attestation driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	s, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(ctx, driver); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context, driver string) error {
	query, ok := migrations[driver]
	if !ok {
		return fmt.Errorf("unsupported attestation driver %q", driver)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate attestations: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, a Attestation) error {
	query := `INSERT INTO attestations (command_id, identity, commitment, result_hash, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, a.CommandID, a.Identity, a.Commitment.Hex(), a.ResultHash, a.Timestamp.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

func (s *SQLStore) ByCommitment(ctx context.Context, c crypto.Commitment) ([]Attestation, error) {
	query := `
		SELECT command_id, identity, commitment, result_hash, created_at
		FROM attestations
		WHERE commitment = ?
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, c.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query attestations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Attestation
	for rows.Next() {
		var (
			a          Attestation
			commitment string
			created    int64
		)
		if err := rows.Scan(&a.CommandID, &a.Identity, &commitment, &a.ResultHash, &created); err != nil {
			return nil, fmt.Errorf("failed to scan attestation: %w", err)
		}
		raw, err := hex.DecodeString(commitment)
		if err != nil || len(raw) != len(a.Commitment) {
			return nil, fmt.Errorf("stored commitment %q is malformed", commitment)
		}
		copy(a.Commitment[:], raw)
		a.Timestamp = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attestations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
