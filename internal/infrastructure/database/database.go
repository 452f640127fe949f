package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	pingTimeout = 5 * time.Second
)

// errEmptyPath is returned by Open when Config.Path is blank.
var errEmptyPath = errors.New("database: empty path")

// DB is the SQLite handle shared by every persistent session in the process.
// SQLite allows one writer, so the pool is capped at a single connection and
// callers queue on it rather than on file locks.
type DB struct {
	*sql.DB
	path string
}

// Config selects the database file and its locking behaviour.
// It mirrors the persistence section of config.yaml.
type Config struct {
	// Path is the database file; missing parent directories are created.
	Path string

	// WALMode switches the journal to write-ahead logging.
	WALMode bool

	// BusyTimeout is how long, in seconds, a statement waits on a lock.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*int(time.Second/time.Millisecond)))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at cfg.Path and checks it
// answers a ping.
//
// The file is restricted to 0600 once it exists. SQLite only creates it on
// first write, so Migrate applies the mode again afterwards.
//
// Parameters:
//   - cfg: database location and locking options
//
// Returns:
//   - *DB: open handle, single connection
//   - error: on an empty path, an unwritable directory or a failed ping
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("database: creating directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("database: opening %s: %w", cfg.Path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping %s: %w", cfg.Path, err)
	}

	db := &DB{DB: sqlDB, path: cfg.Path}
	db.restrictMode()
	return db, nil
}

// restrictMode applies filePermissions to the database file if it exists.
func (db *DB) restrictMode() {
	if _, err := os.Stat(db.path); err == nil {
		_ = os.Chmod(db.path, filePermissions)
	}
}

// Close releases the handle. Safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("database: close: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database: health check: %w", err)
	}
	return nil
}
