package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"slam/internal/config"
	"slam/internal/db"
	"slam/internal/domain"
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
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func seed(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"Uptime", "Latency"} {
		_, err := e.Create(ctx, "tester", map[string]any{
			"name": name, "type": "percentage", "teamId": "TEAM-001",
			"startDate": "2024-01-01", "endDate": "2024-12-31", "targetValue": 99,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_, err := e.CreateRelationship(ctx, "tester", domain.Relationship{
		SourceSLAID: "SLA-000001", TargetSLAID: "SLA-000002", RelationshipType: "depends-on",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestFileExport(t *testing.T) {
	e := newEngine(t)
	seed(t, e)
	ctx := context.Background()

	snap, err := Take(ctx, e)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if snap.Count != 2 || len(snap.Relationships) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	target := filepath.Join(t.TempDir(), "nested", "slam.json")
	sink, err := Open(ctx, target, S3Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Write(ctx, sink, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Records[0].SLAID != "SLA-000001" || !back.ExportedAt.Equal(snap.ExportedAt) {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestOpenRejectsBadS3Target(t *testing.T) {
	for _, target := range []string{"s3://", "s3://bucket", "s3://bucket/", ""} {
		if _, err := Open(context.Background(), target, S3Config{}); err == nil {
			t.Fatalf("expected error for %q", target)
		}
	}
}

type recordingTransport struct {
	mu   sync.Mutex
	reqs []*http.Request
	body [][]byte
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	rt.mu.Lock()
	rt.reqs = append(rt.reqs, req)
	rt.body = append(rt.body, body)
	rt.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     http.Header{"Etag": {`"etag"`}},
		Request:    req,
	}, nil
}

func TestS3Export(t *testing.T) {
	rt := &recordingTransport{}
	ctx := context.Background()
	sink, err := Open(ctx, "s3://snapshots/slam/latest.json", S3Config{
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if sink.String() != "s3://snapshots/slam/latest.json" {
		t.Fatalf("sink = %s", sink)
	}
	if err := Write(ctx, sink, Snapshot{Records: []domain.Record{{SLAID: "SLA-000001"}}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(rt.reqs))
	}
	req := rt.reqs[0]
	if req.Method != http.MethodPut || req.URL.Path != "/snapshots/slam/latest.json" {
		t.Fatalf("request = %s %s", req.Method, req.URL.Path)
	}
	if !bytes.Contains(rt.body[0], []byte(`"SLA-000001"`)) {
		t.Fatalf("body = %s", rt.body[0])
	}
}
