package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fpang/recording-splitter/internal/split"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS claimed_segments (
	run_id     TEXT NOT NULL,
	fragment   TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	modifiers  TEXT NOT NULL,
	claimed_at TEXT NOT NULL,
	PRIMARY KEY (run_id, fragment, item_id, modifiers)
)`

// SQLiteRegistry stores claims in a local SQLite file. The primary key makes
// INSERT OR IGNORE an atomic insert-if-absent.
type SQLiteRegistry struct {
	db    *sql.DB
	path  string
	runID string
}

var _ Registry = (*SQLiteRegistry)(nil)

// OpenSQLite opens (creating if needed) the registry database at path.
func OpenSQLite(ctx context.Context, path, runID string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteRegistry{db: db, path: path, runID: runID}, nil
}

// Claim implements split.Registry.
func (r *SQLiteRegistry) Claim(ctx context.Context, k split.Key) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := r.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO claimed_segments (run_id, fragment, item_id, modifiers, claimed_at) VALUES (?, ?, ?, ?, ?)`,
			r.runID, k.Fragment, k.ItemID, k.Modifiers, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", k, err)
	}
	return affected == 1, nil
}

// Count implements Registry.
func (r *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claimed_segments WHERE run_id = ?`, r.runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return n, nil
}

// Close implements Registry.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
