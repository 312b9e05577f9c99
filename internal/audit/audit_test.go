package audit

import (
	"context"
	"testing"
	"time"

	"slam/internal/db"
	"slam/internal/migrate"
)

func TestLogAndList(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := Writer{DB: conn, Now: func() time.Time { clock = clock.Add(time.Second); return clock }}
	ctx := context.Background()

	entries := []Entry{
		{EntityID: "SLA-000001", Action: ActionCreated, Actor: "alice", NewValues: map[string]any{"name": "Uptime"}},
		{EntityID: "SLA-000001", Action: ActionUpdated, Actor: "bob",
			OldValues: map[string]any{"currentValue": 0.0}, NewValues: map[string]any{"currentValue": 50.0}},
		{EntityID: "SLA-000002", Action: ActionCreated, Actor: "alice"},
	}
	for _, e := range entries {
		if err := w.LogActivity(ctx, e); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	got, err := w.List(ctx, Filter{EntityID: "SLA-000001"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Action != ActionUpdated || got[0].ActorID != "bob" {
		t.Fatalf("newest first violated: %+v", got[0])
	}
	if got[0].OldValues["currentValue"] != 0.0 || got[0].NewValues["currentValue"] != 50.0 {
		t.Fatalf("values = %+v / %+v", got[0].OldValues, got[0].NewValues)
	}

	limited, _ := w.List(ctx, Filter{ActorID: "alice", Limit: 1})
	if len(limited) != 1 || limited[0].EntityID != "SLA-000002" {
		t.Fatalf("limited = %+v", limited)
	}
	if err := w.LogActivity(ctx, Entry{Action: ActionCreated}); err == nil {
		t.Fatalf("expected missing entity error")
	}
}

func TestAfterCursor(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := Writer{DB: conn}
	ctx := context.Background()
	if err := w.LogActivity(ctx, Entry{EntityID: "SLA-000001", Action: ActionCreated, Actor: "a"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	cur, err := w.Latest(ctx)
	if err != nil || cur.ID == "" {
		t.Fatalf("latest = %+v, %v", cur, err)
	}
	for _, id := range []string{"SLA-000002", "SLA-000003"} {
		if err := w.LogActivity(ctx, Entry{EntityID: id, Action: ActionCreated, Actor: "a"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := w.After(ctx, cur, 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(got) != 2 || got[0].EntityID != "SLA-000002" || got[1].EntityID != "SLA-000003" {
		t.Fatalf("after = %+v", got)
	}
	all, _ := w.After(ctx, Cursor{}, 10)
	if len(all) != 3 {
		t.Fatalf("from start = %d", len(all))
	}
}
