package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

func TestLoggingAssignsTraceID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
		w.WriteHeader(http.StatusCreated)
	})
	handler := Logging(logger.NewNop())(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if seen == "" || rec.Header().Get(TraceHeader) != seen {
		t.Fatalf("trace id not propagated: ctx %q header %q", seen, rec.Header().Get(TraceHeader))
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status not preserved: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(TraceHeader, "upstream-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "upstream-123" {
		t.Fatalf("expected upstream trace id to be kept, got %q", seen)
	}
}

func TestRecoverWritesInternalError(t *testing.T) {
	handler := Recover(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
