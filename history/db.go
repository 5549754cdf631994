// Package history keeps a log of published conversions in sqlite.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaTooNew is returned by Open for a database migrated by a newer
// build than this one.
var ErrSchemaTooNew = errors.New("history: database schema is newer than this build")

// Applied to every pooled connection, not only the first.
const dsnPragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

// migration is one embedded SQL file. Its version is the numeric file name
// prefix and equals the schema's user_version once applied.
type migration struct {
	version int
	name    string
}

func openDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	database, err := sql.Open("sqlite", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func schemaVersion(database *sql.DB) (int, error) {
	var v int
	if err := database.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// migrate brings the schema up to the newest embedded migration.
func migrate(database *sql.DB) error {
	all, err := migrations()
	if err != nil {
		return err
	}
	current, err := schemaVersion(database)
	if err != nil {
		return err
	}
	if current > len(all) {
		return fmt.Errorf("%w: version %d, known %d", ErrSchemaTooNew, current, len(all))
	}
	for _, m := range all[current:] {
		if err := applyMigration(database, m); err != nil {
			return err
		}
	}
	return nil
}

// migrations lists the embedded files in order. Versions must run 1..n
// without gaps so user_version indexes the list.
func migrations() ([]migration, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for i, name := range names {
		prefix, _, _ := strings.Cut(path.Base(name), "_")
		v, err := strconv.Atoi(prefix)
		if err != nil || v != i+1 {
			return nil, fmt.Errorf("migration %s: want version %d", name, i+1)
		}
		out = append(out, migration{version: v, name: name})
	}
	return out, nil
}

// applyMigration runs m and bumps user_version in the same transaction.
func applyMigration(database *sql.DB, m migration) error {
	body, err := migrationsFS.ReadFile(m.name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}
	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("start migration %s: %w", m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.name, err)
	}
	// PRAGMA takes no bind parameters.
	if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	return tx.Commit()
}
