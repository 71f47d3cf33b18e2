// Package db provides the local Record Store on embedded SQLite.
//
// Every collection from the schema package is a table holding the verbatim
// record document plus the columns needed for lookups:
//
//	id           primary key, client-generated
//	created      ISO-8601, informational
//	updated      ISO-8601, merge precedence (compared in Go, not SQL)
//	category_id  soft reference, NULL when unset
//	notebook_id  soft reference, NULL when unset
//	data         the JSON document
//
// Architecture:
//   - Database file: ~/.nootle/nootle.db by default
//   - WAL mode: readers never block on the writer, so exports can run while
//     a merge transaction is open
//   - One writer at a time: Update holds a process-wide mutex for the whole
//     transaction and SQLite takes its write lock up front (BEGIN IMMEDIATE)
//   - Soft references are not enforced; deletes clear dependents instead
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/nootle/nootle/internal/schema"
)

var (
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownCollection is returned for collection names outside the schema.
	ErrUnknownCollection = errors.New("unknown collection")
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string

	// writeMu serializes write transactions: a merge and an ordinary edit
	// never interleave.
	writeMu sync.Mutex
}

// Open creates a new database connection at the specified path.
//
// The path may carry a "file:" prefix. The parent directory is created when
// missing. The caller MUST call Close() when done.
//
// Example:
//
//	database, err := db.Open("/home/me/.nootle/nootle.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate"+
		"&_pragma=journal_mode(wal)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(normal)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{
		conn: conn,
		path: path,
	}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates one table per collection if missing.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	var ddl strings.Builder
	for _, name := range schema.Collections() {
		table := quote(name)
		fmt.Fprintf(&ddl, `
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		created TEXT NOT NULL DEFAULT '',
		updated TEXT NOT NULL DEFAULT '',
		category_id TEXT,
		notebook_id TEXT,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %s ON %s(category_id);
	CREATE INDEX IF NOT EXISTS %s ON %s(notebook_id);
	`, table,
			quote("idx_"+name+"_category"), table,
			quote("idx_"+name+"_notebook"), table)
	}

	if _, err := db.conn.ExecContext(ctx, ddl.String()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Update runs fn inside one write transaction spanning every collection.
//
// Either every write made through tx lands or none does. Update blocks
// while another write transaction is running. Cancelling ctx after fn has
// started does not abandon the transaction midway; it is only checked
// before the transaction begins.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	ctx = context.WithoutCancel(ctx)

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a record by id. Returns ErrNotFound if it does not exist.
func (db *DB) Get(collection, id string) (*schema.Record, error) {
	return db.GetContext(context.Background(), collection, id)
}

// GetContext retrieves a record with context support.
func (db *DB) GetContext(ctx context.Context, collection, id string) (*schema.Record, error) {
	return get(ctx, db.conn, collection, id)
}

// Put inserts or replaces a record keyed by its id.
func (db *DB) Put(collection string, rec *schema.Record) error {
	return db.PutContext(context.Background(), collection, rec)
}

// PutContext inserts or replaces a record with context support.
func (db *DB) PutContext(ctx context.Context, collection string, rec *schema.Record) error {
	return db.Update(ctx, func(tx *Tx) error {
		return tx.Put(ctx, collection, rec)
	})
}

// Delete removes a record and clears soft references to it in dependent
// collections. Returns nil if the record doesn't exist (idempotent).
func (db *DB) Delete(collection, id string) error {
	return db.DeleteContext(context.Background(), collection, id)
}

// DeleteContext removes a record with context support.
func (db *DB) DeleteContext(ctx context.Context, collection, id string) error {
	return db.Update(ctx, func(tx *Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}

// Scan returns the records of a collection matching filter.
// Results are in insertion order unless filter.OrderBy says otherwise.
func (db *DB) Scan(collection string, filter Filter) ([]*schema.Record, error) {
	return db.ScanContext(context.Background(), collection, filter)
}

// ScanContext returns matching records with context support.
func (db *DB) ScanContext(ctx context.Context, collection string, filter Filter) ([]*schema.Record, error) {
	return scan(ctx, db.conn, collection, filter)
}

// Count returns the number of records in a collection.
func (db *DB) Count(collection string) (int, error) {
	return db.CountContext(context.Background(), collection)
}

// CountContext returns the number of records with context support.
func (db *DB) CountContext(ctx context.Context, collection string) (int, error) {
	if !schema.IsCollection(collection) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quote(collection))
	if err := db.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

// Stats returns the record count of every collection.
func (db *DB) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, name := range schema.Collections() {
		count, err := db.CountContext(ctx, name)
		if err != nil {
			return nil, err
		}
		stats[name] = count
	}
	return stats, nil
}

// quote returns name as a quoted SQL identifier. Only schema collection
// names and derived index names reach this function.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
