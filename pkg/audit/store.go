package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one proxied request's audit entry.
type Record struct {
	ID         string
	Timestamp  time.Time
	KeyID      string
	Method     string
	Path       string
	Status     int
	BytesSent  int64
	DurationMS int64
	RemoteAddr string
}

// Config configures the audit store.
type Config struct {
	// Path is the database file path. Empty disables the store.
	Path string

	// BusyTimeout is how long writes wait on a locked database.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS access_records (
	id          TEXT PRIMARY KEY,
	ts          TIMESTAMP NOT NULL,
	key_id      TEXT NOT NULL,
	method      TEXT NOT NULL,
	path        TEXT NOT NULL,
	status      INTEGER NOT NULL,
	bytes_sent  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	remote_addr TEXT
);
CREATE INDEX IF NOT EXISTS idx_access_records_ts ON access_records(ts);
CREATE INDEX IF NOT EXISTS idx_access_records_key_id ON access_records(key_id);
`

// Store writes access records to SQLite. Safe for concurrent use; the
// database/sql pool serializes writers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at cfg.Path and ensures the
// schema exists.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")

	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit store opened", "path", cfg.Path)
	return &Store{db: db, logger: logger}, nil
}

// Record inserts one access record. A zero ID is filled with a fresh UUID
// and a zero timestamp with the current time.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_records
			(id, ts, key_id, method, path, status, bytes_sent, duration_ms, remote_addr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp, r.KeyID, r.Method, r.Path, r.Status, r.BytesSent, r.DurationMS, r.RemoteAddr,
	)
	if err != nil {
		return fmt.Errorf("inserting access record: %w", err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting access records: %w", err)
	}
	return n, nil
}

// RecentByKey returns up to limit records for one key id, newest first.
func (s *Store) RecentByKey(ctx context.Context, keyID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, key_id, method, path, status, bytes_sent, duration_ms, COALESCE(remote_addr, '')
		FROM access_records
		WHERE key_id = ?
		ORDER BY ts DESC
		LIMIT ?`, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying access records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.KeyID, &r.Method, &r.Path,
			&r.Status, &r.BytesSent, &r.DurationMS, &r.RemoteAddr); err != nil {
			return nil, fmt.Errorf("scanning access record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes records with timestamps before cutoff and
// returns the number deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM access_records WHERE ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning access records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
