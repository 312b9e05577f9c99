package db

import (
	"context"
	"os"
	"testing"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, "SELECT * FROM t WHERE a=? AND b=?", "SELECT * FROM t WHERE a=? AND b=?"},
		{Postgres, "SELECT * FROM t WHERE a=? AND b=?", "SELECT * FROM t WHERE a=$1 AND b=$2"},
		{Postgres, "SELECT '?' FROM t WHERE a=?", "SELECT '?' FROM t WHERE a=$1"},
	}
	for _, tc := range cases {
		if got := tc.dialect.Rebind(tc.in); got != tc.want {
			t.Fatalf("%s Rebind(%q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestOpenWorkspaceSQLite(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if conn.Dialect != SQLite {
		t.Fatalf("dialect = %s", conn.Dialect)
	}
	if _, err := conn.ExecOn(context.Background(), conn, `CREATE TABLE probe(v TEXT)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := os.Stat(Path(dir)); err != nil {
		t.Fatalf("expected db file: %v", err)
	}
}
