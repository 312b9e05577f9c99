package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"

	"slam/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

func loadMigrations(dialect db.Dialect) ([]Migration, error) {
	dir := "sql/" + string(dialect)
	files, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile(dir + "/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		_, err = fmt.Sscanf(f.Name(), "%d_", &v)
		if err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version: v,
			Name:    f.Name(),
			UpSQL:   string(data),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrate applies embedded migrations for the connection's dialect in order.
func Migrate(conn *db.DB) error {
	migrations, err := loadMigrations(conn.Dialect)
	if err != nil {
		return err
	}
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var currentVersion int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&currentVersion)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		currentVersion = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if _, err := tx.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(conn.Dialect.Rebind(`UPDATE schema_version SET version=?`), m.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		currentVersion = m.Version
	}
	return tx.Commit()
}

// MigrateLocked runs Migrate while holding an exclusive lock file inside the
// workspace, so a CLI invocation and a running server never migrate the same
// SQLite file at once. Postgres relies on its own transactional DDL.
func MigrateLocked(conn *db.DB, workspace string) error {
	if conn.Dialect != db.SQLite {
		return Migrate(conn)
	}
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return err
	}
	lock := flock.New(filepath.Join(dir, "migrate.lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return Migrate(conn)
}

// Version reports the applied schema version.
func Version(conn *db.DB) (int, error) {
	var v int
	err := conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}
