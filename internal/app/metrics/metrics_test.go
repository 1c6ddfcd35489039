package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                           "/",
		"/healthz":                    "/healthz",
		"/v1":                         "/v1",
		"/v1/accounts":                "/v1/accounts",
		"/v1/accounts/alice":          "/v1/accounts/:handle",
		"/v1/accounts/alice/history":  "/v1/accounts/:handle/history",
		"/v1/admin/accounts/alice":    "/v1/admin/accounts/:handle",
		"/v1/admin/protocol/run-once": "/v1/admin/protocol/run-once",
		"/v1/protocol/blocks":         "/v1/protocol/blocks",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordEmission(t *testing.T) {
	before := testutil.ToFloat64(emissionRuns.WithLabelValues("emitted"))
	RecordEmission("emitted", 5*time.Millisecond, 7, 12.5, 3)
	if got := testutil.ToFloat64(emissionRuns.WithLabelValues("emitted")); got != before+1 {
		t.Fatalf("expected emitted counter to advance, got %v", got)
	}
	if got := testutil.ToFloat64(emissionLastBlock); got != 7 {
		t.Fatalf("expected last block 7, got %v", got)
	}

	RecordEmission("failed", 0, 0, 0, 0)
	if got := testutil.ToFloat64(emissionLastBlock); got != 7 {
		t.Fatalf("failed run must not move the block gauge, got %v", got)
	}
	if got := testutil.ToFloat64(emissionDeferred); got != 3 {
		t.Fatalf("failed run must not move the deferred gauge, got %v", got)
	}
}

func TestInstrumentHandlerExposesMetrics(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/accounts/bob", nil))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `karma_ledger_http_requests_total{method="GET",path="/v1/accounts/:handle",status="418"}`) {
		t.Fatalf("request metric missing from exposition:\n%s", body)
	}
}
