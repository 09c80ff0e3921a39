package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions as JSON payloads in a local SQLite
// file. It is meant for single-process deployments; WAL mode with a
// single connection avoids locking issues.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the session database at dsn.
//
// Notes:
// - With the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open session db with dsn: %s", dsn)
	}

	// Single connection is optimal for SQLite with WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS session (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_ts INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, ddl)
	return errors.Wrap(err, "failed to migrate session table")
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM session WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read session")
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, errors.Wrapf(err, "failed to decode session %s", id)
	}
	return &sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return errors.New("session ID required")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (id, payload, updated_ts) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_ts = excluded.updated_ts`,
		sess.ID, string(payload), time.Now().Unix())
	return errors.Wrap(err, "failed to save session")
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM session WHERE id = ?", id)
	return errors.Wrap(err, "failed to delete session")
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM session ORDER BY updated_ts DESC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan session row")
		}
		var sess Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, errors.Wrap(err, "failed to decode session payload")
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}
