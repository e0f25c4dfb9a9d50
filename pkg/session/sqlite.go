package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/armorclaw/crashreport/internal/sqlitedb"
	"github.com/armorclaw/crashreport/pkg/errors"
)

const sessionSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// SQLiteStore keeps sessions as JSON rows
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens the database at path and migrates it
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path, sessionSchema)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the session values; missing or expired sessions are empty
func (s *SQLiteStore) Load(ctx context.Context, id string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ? AND expires_at > ?`,
		id, s.now().UnixNano()).Scan(&data)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}
		return nil, errors.Wrapf(errors.CodeSessionLoad, err, "load session %s", id)
	}

	values := map[string]any{}
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, errors.Wrapf(errors.CodeSessionLoad, err, "decode session %s", id)
	}
	return values, nil
}

// Save upserts the session values and extends its expiry
func (s *SQLiteStore) Save(ctx context.Context, id string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "encode session %s", id)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		id, string(data), s.now().Add(s.ttl).UnixNano())
	if err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "save session %s", id)
	}
	return nil
}

// Delete drops the session
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrapf(errors.CodeSessionSave, err, "delete session %s", id)
	}
	return nil
}

// Prune removes expired sessions
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
