package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesObservations(t *testing.T) {
	m := New()
	m.ObserveAPI("GET", "/exec", 200, 15*time.Millisecond)
	m.ObserveOp("update", "conflict")
	m.AuditFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`slam_api_requests_total{method="GET",route="/exec",status="200"} 1`,
		`slam_engine_operations_total{op="update",result="conflict"} 1`,
		`slam_audit_write_failures_total 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/", 200, time.Second)
	m.ObserveOp("create", "ok")
	m.InflightInc()
	m.InflightDec()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status = %d", rec.Code)
	}
}
