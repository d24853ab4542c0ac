package trace

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	applog "kakeibo/internal/log"
)

func TestMiddlewareAssignsRequestIDAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Format: "json", Output: &buf})
	m := NewMiddleware(logger, func(*http.Request) string { return "10.0.0.1" })

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // ignored by the recorder and the wrapper
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/bills", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id %q", seen)
	}
	if rr.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("response header %q, context %q", rr.Header().Get(RequestIDHeader), seen)
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log is not one JSON record: %v (%s)", err, buf.String())
	}
	if rec[applog.FieldRequestID] != seen || rec[applog.FieldStatusCode] != float64(http.StatusTeapot) {
		t.Fatalf("log record %v", rec)
	}
	if rec["level"] != "WARN" {
		t.Fatalf("4xx should log at warn, got %v", rec["level"])
	}
	if m.GetMetrics().TotalRequests != 1 {
		t.Fatalf("metrics %+v", m.GetMetrics())
	}
}

func TestIncomingRequestID(t *testing.T) {
	m := NewMiddleware(applog.New(applog.Config{Output: &bytes.Buffer{}}), nil)
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"valid id kept", "abc-123_X", true},
		{"empty replaced", "", false},
		{"unsafe replaced", "a b\n", false},
		{"too long replaced", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if (seen == tt.incoming) != tt.keep {
				t.Fatalf("incoming %q, got %q", tt.incoming, seen)
			}
		})
	}
}
