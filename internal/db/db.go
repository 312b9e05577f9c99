package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"
)

const defaultDBName = "slam.db"

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	// DSN overrides the workspace database. postgres:// and postgresql://
	// select the pgx driver; anything else is handed to sqlite.
	DSN string
}

// DB couples a connection pool with its dialect so queries written with ?
// placeholders can run on either backend.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".slam", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".slam")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys on and a
// busy timeout so concurrent request writers wait instead of failing.
func Open(cfg Config) (*DB, error) {
	if isPostgresDSN(cfg.DSN) {
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &DB{DB: conn, Dialect: Postgres}, nil
	}
	dsn := cfg.DSN
	if dsn == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers in-process; callers must not touch
	// the pool while holding a transaction.
	conn.SetMaxOpenConns(1)
	return &DB{DB: conn, Dialect: SQLite}, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Rebind rewrites ? placeholders to $n for Postgres. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ExecOn runs a ?-placeholder statement on q using the connection's dialect.
func (d *DB) ExecOn(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, d.Dialect.Rebind(query), args...)
}

// QueryOn runs a ?-placeholder query on q using the connection's dialect.
func (d *DB) QueryOn(ctx context.Context, q Querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, d.Dialect.Rebind(query), args...)
}

// QueryRowOn runs a ?-placeholder single-row query on q.
func (d *DB) QueryRowOn(ctx context.Context, q Querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, d.Dialect.Rebind(query), args...)
}
