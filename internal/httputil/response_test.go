package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/R3E-Network/karma_ledger/internal/errors"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Error
}

func TestWriteServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Trace-ID", "trace-1")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteServiceError(rec, req, apperrors.RateLimitExceeded(5, "1m"))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	detail := decodeError(t, rec)
	if detail.Code != "rate_limit_exceeded" || detail.TraceID != "trace-1" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Details["window"] != "1m" {
		t.Fatalf("expected window detail, got %v", detail.Details)
	}
}

func TestWriteServiceErrorHidesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Message != "Internal server error" {
		t.Fatalf("internal cause leaked: %+v", detail)
	}
}

func TestUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized(rec, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type")
	}
}
