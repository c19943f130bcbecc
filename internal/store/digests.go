package store

import (
	"context"
	"fmt"
	"time"
)

// Digest kinds.
const (
	DigestPlan    = "plan"
	DigestMinutes = "minutes"
)

// HasDigest reports whether a file with this SHA-256 was already processed.
func (s *SQLiteStore) HasDigest(ctx context.Context, sha string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_digests WHERE sha256 = ?`, sha).Scan(&n); err != nil {
		return false, fmt.Errorf("checking file digest: %w", err)
	}
	return n > 0, nil
}

// RecordDigest marks a file as processed. Recording a known digest is a no-op.
func (s *SQLiteStore) RecordDigest(ctx context.Context, sha, name, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_digests (sha256, name, kind, created_at) VALUES (?, ?, ?, ?)`,
		sha, name, kind, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording file digest: %w", err)
	}
	return nil
}
