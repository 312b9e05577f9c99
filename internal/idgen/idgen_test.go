package idgen

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"slam/internal/db"
	"slam/internal/migrate"
)

func newSQLCounter(t *testing.T) SQLCounter {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return SQLCounter{DB: conn, Name: "sla", Format: Format{Prefix: "SLA", Width: 6}}
}

func TestFormat(t *testing.T) {
	f := Format{Prefix: "SLA", Width: 6}
	if got := f.ID(1); got != "SLA-000001" {
		t.Fatalf("ID(1) = %s", got)
	}
	if got := f.ID(1234567); got != "SLA-1234567" {
		t.Fatalf("wide id = %s", got)
	}
	if n, ok := f.Parse("SLA-000042"); !ok || n != 42 {
		t.Fatalf("parse = %d, %v", n, ok)
	}
	if _, ok := f.Parse("TASK-1"); ok {
		t.Fatalf("foreign prefix parsed")
	}
}

func TestSQLCounterSequence(t *testing.T) {
	c := newSQLCounter(t)
	ctx := context.Background()
	for i, want := range []string{"SLA-000001", "SLA-000002", "SLA-000003"} {
		got, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("next %d = %s, want %s", i, got, want)
		}
	}
	if cur, _ := c.Current(ctx); cur != 3 {
		t.Fatalf("current = %d", cur)
	}
}

func TestSQLCounterAdvanceNeverGoesBack(t *testing.T) {
	c := newSQLCounter(t)
	ctx := context.Background()
	if err := c.Advance(ctx, 10); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := c.Advance(ctx, 4); err != nil {
		t.Fatalf("advance back: %v", err)
	}
	got, _ := c.Next(ctx)
	if got != "SLA-000011" {
		t.Fatalf("next after advance = %s", got)
	}
}

func TestSQLCounterConcurrentUnique(t *testing.T) {
	c := newSQLCounter(t)
	ctx := context.Background()
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id, err := c.Next(ctx)
				if err != nil {
					t.Errorf("next: %v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 80 {
		t.Fatalf("issued %d ids", len(seen))
	}
}

func TestRedisCounter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	key := "slam:test:" + uuid.NewString()
	c, err := NewRedisCounter(addr, key, Format{Prefix: "SLA", Width: 6})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	ctx := context.Background()
	defer func() {
		c.Client.Del(ctx, key)
		c.Close()
	}()
	first, err := c.Next(ctx)
	if err != nil || first != "SLA-000001" {
		t.Fatalf("first = %s, %v", first, err)
	}
	if err := c.Advance(ctx, 41); err != nil {
		t.Fatalf("advance: %v", err)
	}
	next, _ := c.Next(ctx)
	if next != "SLA-000042" {
		t.Fatalf("next = %s", next)
	}
}
