package proxy

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tessera-mem/tessera/internal/merr"
)

// RequestLog is a SQLite-backed monotonic counter of proxied requests,
// built the same way as the warm tier's own database/sql-over-sqlite3
// shape. It persists in its own table rather than folding into the
// memories database so admin stats queries never contend with the memory
// store, and the count survives restarts.
type RequestLog struct {
	db *sql.DB
}

// NewRequestLog opens (creating if absent) the request counter database at
// dbPath.
func NewRequestLog(dbPath string) (*RequestLog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating request log directory: %v", merr.Storage, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening request log: %v", merr.Storage, err)
	}

	rl := &RequestLog{db: db}
	if err := rl.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing request log schema: %v", merr.Storage, err)
	}
	return rl, nil
}

func (rl *RequestLog) initSchema() error {
	_, err := rl.db.Exec(`
	CREATE TABLE IF NOT EXISTS request_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO request_counter (id, total) VALUES (1, 0);
	`)
	return err
}

// Increment records one completed proxy request and returns the new total.
func (rl *RequestLog) Increment(ctx context.Context) (uint64, error) {
	tx, err := rl.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE request_counter SET total = total + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("%w: %v", merr.Storage, err)
	}

	var total uint64
	if err := tx.QueryRowContext(ctx, `SELECT total FROM request_counter WHERE id = 1`).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: %v", merr.Storage, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return total, nil
}

// Total returns the current request count without incrementing it.
func (rl *RequestLog) Total(ctx context.Context) (uint64, error) {
	var total uint64
	err := rl.db.QueryRowContext(ctx, `SELECT total FROM request_counter WHERE id = 1`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", merr.Storage, err)
	}
	return total, nil
}

// Close releases the underlying database handle.
func (rl *RequestLog) Close() error {
	return rl.db.Close()
}
