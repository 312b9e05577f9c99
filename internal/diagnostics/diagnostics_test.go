package diagnostics

import (
	"context"
	"testing"

	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/engine"
	"slam/internal/migrate"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, config.Default())
}

func create(t *testing.T, e engine.Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.Create(context.Background(), "tester", map[string]any{
			"name": "Uptime", "type": "percentage", "teamId": "TEAM-001",
			"startDate": "2024-01-01", "endDate": "2024-12-31", "targetValue": 99,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
}

func byName(r Report) map[string]Check {
	out := make(map[string]Check, len(r.Checks))
	for _, c := range r.Checks {
		out[c.Name] = c
	}
	return out
}

func TestCleanStoreIsOK(t *testing.T) {
	e := newEngine(t)
	create(t, e, 2)
	report, err := Run(context.Background(), e, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.OK || report.Records != 2 {
		t.Fatalf("report = %+v", report)
	}
}

func TestDetectsAndFixes(t *testing.T) {
	e := newEngine(t)
	create(t, e, 3)
	ctx := context.Background()
	for _, stmt := range []string{
		`UPDATE slas SET parent_sla_id='SLA-999999' WHERE sla_id='SLA-000001'`,
		`UPDATE slas SET status='deleted' WHERE sla_id='SLA-000002'`,
		`UPDATE slas SET tags='a,,b' WHERE sla_id='SLA-000003'`,
		`INSERT INTO sla_relationships(source_sla_id,target_sla_id,relationship_type,created_at,created_by)
			VALUES ('SLA-000001','SLA-404404','depends-on','2024-01-01T00:00:00Z','x')`,
		`UPDATE id_counters SET last_value=1 WHERE name='sla'`,
	} {
		if _, err := e.DB.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	report, err := Run(ctx, e, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.OK {
		t.Fatalf("expected problems: %+v", report)
	}
	checks := byName(report)
	for name, want := range map[string]string{
		"Parent references": StatusWarning,
		"Relationships":     StatusWarning,
		"Id counter":        StatusError,
		"Soft delete state": StatusWarning,
		"List cells":        StatusWarning,
	} {
		if got := checks[name].Status; got != want {
			t.Fatalf("%s status = %s, want %s (%+v)", name, got, want, checks[name])
		}
	}

	fixed, err := Run(ctx, e, Options{Fix: true})
	if err != nil {
		t.Fatalf("run fix: %v", err)
	}
	counter := byName(fixed)["Id counter"]
	if counter.Status != StatusOK || !counter.Fixed {
		t.Fatalf("counter after fix = %+v", counter)
	}
	if n, _ := e.IDs.Current(ctx); n != 3 {
		t.Fatalf("counter = %d, want 3", n)
	}
	next, err := e.IDs.Next(ctx)
	if err != nil || next != "SLA-000004" {
		t.Fatalf("next id = %s, %v", next, err)
	}
}
