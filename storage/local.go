package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jmossahebi/jello2/domain"
	"github.com/jmossahebi/jello2/telemetry"
)

// StateKey is the key/value entry holding the local board snapshot.
const StateKey = "jello.state.v1"

// Local is a SQLite-backed key/value store holding the offline snapshot.
type Local struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenLocal opens (creating if needed) the database at path. maxPages, when
// positive, caps the database size; writes beyond it fail with
// domain.ErrQuotaExceeded.
func OpenLocal(path string, maxPages int, logger *log.Logger) (*Local, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases and pragmas consistent
	db.SetMaxOpenConns(1)

	l := &Local{db: db, logger: logger}
	if err := l.migrate(maxPages); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return l, nil
}

func (l *Local) migrate(maxPages int) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	if maxPages > 0 {
		if _, err := l.db.Exec(fmt.Sprintf("PRAGMA max_page_count = %d", maxPages)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (l *Local) Close() error {
	return l.db.Close()
}

var _ domain.LocalStore = (*Local)(nil)

// Load returns the stored snapshot. Missing, unreadable and malformed
// snapshots are all reported as absent.
func (l *Local) Load(ctx context.Context) (*domain.State, bool) {
	data, ok, err := l.Get(ctx, StateKey)
	if err != nil {
		l.warn(err, "read local snapshot")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	s, err := domain.DecodeState(data)
	if err != nil {
		l.warn(err, "discarding malformed local snapshot")
		return nil, false
	}
	return &s, true
}

// Save serialises and stores the whole snapshot.
func (l *Local) Save(ctx context.Context, s domain.State) (err error) {
	ctx, op := telemetry.Start(ctx, l.logger, "local", "save", attribute.Int("jello.boards", len(s.Boards)))
	defer func() { op.End(err) }()

	data, err := domain.EncodeState(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w: %w", domain.ErrOther, err)
	}
	op.SetAttributes(attribute.Int("jello.snapshot_bytes", len(data)))
	return l.Put(ctx, StateKey, data)
}

// Clear removes the stored snapshot.
func (l *Local) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, StateKey); err != nil {
		return localError("clear snapshot", err)
	}
	return nil
}

// Get returns the value stored under key. ok is false when absent.
func (l *Local) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := l.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, localError("get "+key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (l *Local) Put(ctx context.Context, key string, value []byte) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return localError("put "+key, err)
	}
	return nil
}

func localError(op string, err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrFull {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrOther, err)
}

func (l *Local) warn(err error, msg string) {
	if l.logger != nil {
		l.logger.WithError(err).Warn(msg)
	}
}
