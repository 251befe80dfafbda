package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rania-fds/fds/internal/monitoring"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		fn   func(http.ResponseWriter, string)
		want int
	}{
		{"BadRequest", BadRequest, http.StatusBadRequest},
		{"NotFound", NotFound, http.StatusNotFound},
		{"Conflict", Conflict, http.StatusConflict},
		{"ServiceUnavailable", ServiceUnavailable, http.StatusServiceUnavailable},
		{"InternalServerError", InternalServerError, http.StatusInternalServerError},
	} {
		rec := httptest.NewRecorder()
		tc.fn(rec, "msg")
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"count": 42})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["count"] != 42 {
		t.Errorf("count = %d, want 42", resp["count"])
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 10, false},
		{"limit=5", 5, false},
		{"limit=0", 0, false},
		{"limit=5000", 100, false},
		{"limit=-1", 0, true},
		{"limit=abc", 0, true},
	} {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tc.query, nil)
		got, err := QueryInt(r, "limit", 10, 100)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err = %v", tc.query, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %d, want %d", tc.query, got, tc.want)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := monitoring.New(&buf, monitoring.LevelDebug)
	h := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	out := buf.String()
	if !strings.Contains(out, "418") || !strings.Contains(out, "/api/rooms") {
		t.Errorf("log line %q missing status or path", out)
	}
}
