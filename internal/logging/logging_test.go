package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := global
	global = zap.New(core)
	t.Cleanup(func() { global = prev })
	return logs
}

func TestMiddlewareRequestID(t *testing.T) {
	logs := observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WithContext(r.Context()).Info("inside", Path("a/b"))
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "req-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.TakeAll()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			seen := rec.Header().Get(RequestIDHeader)
			if seen == "" || (tt.header != "" && seen != tt.header) {
				t.Fatalf("request id = %q", seen)
			}
			entries := logs.TakeAll()
			if len(entries) != 2 {
				t.Fatalf("got %d entries, want 2", len(entries))
			}
			for _, e := range entries {
				if e.ContextMap()["request_id"] != seen {
					t.Errorf("entry %q missing request id: %v", e.Message, e.ContextMap())
				}
			}
			if got := entries[1].ContextMap()["status"]; got != int64(http.StatusTeapot) {
				t.Errorf("status field = %v", got)
			}
		})
	}
}

func TestWithContextFallsBack(t *testing.T) {
	logs := observe(t)

	WithContext(context.Background()).Info("plain")
	if n := logs.Len(); n != 1 {
		t.Errorf("got %d entries, want 1", n)
	}
}
