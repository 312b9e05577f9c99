package slamsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/engine"
	"slam/internal/migrate"
	"slam/internal/server"
)

const testSecret = "sdk-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Permissions.Assignments = map[string]string{"ed": "admin", "vic": "viewer"}
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine: engine.New(conn, cfg),
		Auth:   server.AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DefaultActor: "anonymous"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func uptime(name string) map[string]any {
	return map[string]any{
		"name": name, "type": "percentage", "teamId": "TEAM-001",
		"startDate": "2024-01-01", "endDate": "2024-12-31", "targetValue": 99.9,
	}
}

func TestClientLifecycle(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	token, err := server.SignToken(testSecret, "ed")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c := New(srv.URL)
	c.BearerToken = token

	created, err := c.Create(ctx, uptime("Uptime"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.SLAID != "SLA-000001" || created.RowVersion != 1 {
		t.Fatalf("created = %+v", created)
	}
	updated, err := c.Update(ctx, created.SLAID, map[string]any{"currentValue": 98.5, "rowVersion": created.RowVersion})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CurrentValue != 98.5 || updated.RowVersion != 2 {
		t.Fatalf("updated = %+v", updated)
	}

	_, err = c.Update(ctx, created.SLAID, map[string]any{"currentValue": 1, "rowVersion": 1})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || !actionErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}

	second, err := c.Create(ctx, uptime("Latency"))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := c.CreateRelationship(ctx, Relationship{
		SourceSLAID: created.SLAID, TargetSLAID: second.SLAID, RelationshipType: "depends-on",
	}); err != nil {
		t.Fatalf("link: %v", err)
	}
	read, err := c.Read(ctx, created.SLAID)
	if err != nil || read.Name != "Uptime" {
		t.Fatalf("read = %+v, %v", read, err)
	}

	page, err := c.Query(ctx, map[string]any{"name": "lat"}, &Sort{Field: "name"}, &Pagination{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || page.Data[0].SLAID != second.SLAID {
		t.Fatalf("page = %+v", page)
	}

	if err := c.DeleteRelationship(ctx, created.SLAID, second.SLAID, "depends-on"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	version := int64(2)
	deleted, err := c.Delete(ctx, created.SLAID, &version)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Status != "deleted" || deleted.IsActive {
		t.Fatalf("deleted = %+v", deleted)
	}
}

func TestClientBulk(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(srv.URL)
	c.ActorID = "ed"

	res, err := c.BulkCreate(ctx, []map[string]any{uptime("A"), {"name": "missing fields"}, uptime("B")})
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if res.Success || len(res.IDs) != 2 || len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("bulk create = %+v", res)
	}
	res, err = c.BulkUpdate(ctx, []BulkUpdateItem{
		{ID: res.IDs[0], Updates: map[string]any{"currentValue": 10}},
		{ID: res.IDs[1], Updates: map[string]any{"currentValue": 20}},
	})
	if err != nil || !res.Success || len(res.IDs) != 2 {
		t.Fatalf("bulk update = %+v, %v", res, err)
	}
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	viewer := New(srv.URL)
	viewer.ActorID = "vic"
	perms, err := viewer.Permissions(ctx)
	if err != nil || perms.Role != "viewer" || !perms.CanView || perms.CanCreate {
		t.Fatalf("permissions = %v, %v", perms, err)
	}
	_, err = viewer.Create(ctx, uptime("Nope"))
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Code != "forbidden" || actionErr.Action != "create" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = viewer.Read(ctx, "SLA-999999")
	if !errors.As(err, &actionErr) || actionErr.Code != "not_found" {
		t.Fatalf("expected not_found, got %v", err)
	}

	bad := New(srv.URL)
	bad.BearerToken = "not-a-jwt"
	_, err = bad.Permissions(ctx)
	if !errors.As(err, &actionErr) || actionErr.Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}

	gone := New(srv.URL + "/missing")
	_, err = gone.Permissions(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
