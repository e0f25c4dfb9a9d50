package artifact

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/armorclaw/crashreport/internal/sqlitedb"
	"github.com/armorclaw/crashreport/pkg/errors"
)

const artifactSchema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		name       TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

// SQLiteStore keeps artifacts in a SQLite table
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the database at path and migrates it
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path, artifactSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Write inserts the artifact
func (s *SQLiteStore) Write(ctx context.Context, key, content string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM artifacts WHERE name = ?`, key).Scan(&one)
	switch {
	case err == nil:
		return errors.Newf(errors.CodeArtifactExists, "artifact %s already exists", key)
	case !stderrors.Is(err, sql.ErrNoRows):
		return errors.Wrapf(errors.CodeArtifactUpload, err, "check %s", key)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (name, content, created_at) VALUES (?, ?, ?)`,
		key, content, s.now().UnixNano())
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return errors.Newf(errors.CodeArtifactExists, "artifact %s already exists", key)
		}
		return errors.Wrapf(errors.CodeArtifactUpload, err, "insert %s", key)
	}
	return nil
}

// Read returns the stored content
func (s *SQLiteStore) Read(ctx context.Context, key string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM artifacts WHERE name = ?`, key).Scan(&content)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(errors.CodeArtifactRead, err, "read %s", key)
	}
	return content, true, nil
}

// Delete removes the row
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE name = ?`, key); err != nil {
		return errors.Wrapf(errors.CodeArtifactDelete, err, "delete %s", key)
	}
	return nil
}

// Sweep removes rows created before olderThan
func (s *SQLiteStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
