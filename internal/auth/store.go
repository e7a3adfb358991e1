package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// RevocationStore records signed-out tokens until they expire.
type RevocationStore interface {
	// IsRevoked reports whether the token id has been revoked.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Revoke records the token id as revoked until expiresAt.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// DBTX is the interface for database operations.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRevocationStore implements RevocationStore using PostgreSQL.
// Only the SHA-256 hash of a token id is stored.
type PostgresRevocationStore struct {
	db DBTX
}

// NewPostgresRevocationStore creates a revocation store over db.
func NewPostgresRevocationStore(db DBTX) *PostgresRevocationStore {
	return &PostgresRevocationStore{db: db}
}

// IsRevoked looks the hashed token id up in revoked_tokens.
func (s *PostgresRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1)`

	var revoked bool
	if err := s.db.QueryRowContext(ctx, query, HashToken(tokenID)).Scan(&revoked); err != nil {
		// Don't wrap the error with token details
		return false, err
	}
	return revoked, nil
}

// Revoke stores the hashed token id. Revoking twice is a no-op.
func (s *PostgresRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	const query = `
		INSERT INTO revoked_tokens (token_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, HashToken(tokenID), expiresAt)
	return err
}

// PurgeExpired deletes revocations whose tokens have expired anyway.
func (s *PostgresRevocationStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// HashToken computes the SHA-256 hash of the token and returns it as a hex string.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
