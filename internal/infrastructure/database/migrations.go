package database

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// Migration is one forward schema change read from a
// YYYYMMDD_HHMMSS_name.up.sql file.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	SQL     string
}

// MigrationRecord is a migration already applied to the database.
type MigrationRecord struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// migrationFile is what a migration filename encodes.
type migrationFile struct {
	Version string
	Name    string
	Up      bool
}

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`

// Migrate brings the schema up to date with the .up.sql files at the root of
// fsys (normally migrations.FS), applying pending ones in version order.
//
// Every migration commits on its own together with its ledger row. On error
// the failing migration is rolled back, earlier ones stay applied and the
// next call resumes from the failure. A nil fsys is an empty set.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("database: migration %s_%s: %w", m.Version, m.Name, err)
		}
	}

	db.restrictMode()
	return nil
}

// MigrationStatus splits the migrations in fsys into those recorded as
// applied and those still pending, both ordered by version.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, nil, fmt.Errorf("database: migration ledger: %w", err)
	}
	if applied, err = db.ledger(ctx); err != nil {
		return nil, nil, err
	}
	available, err := readMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		seen[r.Version] = struct{}{}
	}
	for _, m := range available {
		if _, ok := seen[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) ledger(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("database: reading migration ledger: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			at int64
		)
		if err := rows.Scan(&r.Version, &r.Name, &at); err != nil {
			return nil, fmt.Errorf("database: reading migration ledger: %w", err)
		}
		r.AppliedAt = time.Unix(at, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}

// readMigrations loads the forward migrations at the root of fsys. Down
// files, subdirectories and unrelated files are skipped.
func readMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("database: listing migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, ok := parseMigrationFile(e.Name())
		if !ok || !f.Up {
			continue
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("database: reading %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: f.Version, Name: f.Name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFile decodes YYYYMMDD_HHMMSS_name.{up,down}.sql.
func parseMigrationFile(filename string) (migrationFile, bool) {
	stem, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}

	var f migrationFile
	if s, up := strings.CutSuffix(stem, ".up"); up {
		stem, f.Up = s, true
	} else if s, down := strings.CutSuffix(stem, ".down"); down {
		stem = s
	} else {
		return migrationFile{}, false
	}

	date, rest, ok := strings.Cut(stem, "_")
	if !ok {
		return migrationFile{}, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if date == "" || clock == "" {
		return migrationFile{}, false
	}

	f.Version = date + "_" + clock
	f.Name = name
	if f.Name == "" {
		f.Name = f.Version
	}
	return f, true
}
