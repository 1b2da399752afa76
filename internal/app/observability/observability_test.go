package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/sessions/123/answers/9", want: "/api/v1/sessions/{id}/answers/{id}"},
		{in: "/api/v1/exams/0b6c7d2e-8f1a-4c3b-9d5e-6f7a8b9c0d1e/report", want: "/api/v1/exams/{id}/report"},
		{in: "/healthz", want: "/healthz"},
		{in: "", want: "/"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestExtractSessionID(t *testing.T) {
	if id := extractSessionID("/api/v1/sessions/abc/submit"); id != "abc" {
		t.Fatalf("expected abc, got %q", id)
	}
	if id := extractSessionID("/api/v1/exams/e1"); id != "" {
		t.Fatalf("expected empty id for non-session path, got %q", id)
	}
}

func TestMiddlewareRecordsRouteAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewCollector(nil, zap.New(core))
	c.CountEvent("session_submitted")

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", c.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-42", nil))

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["session_id"] != "s-42" || fields["path"] != "/api/v1/sessions/{id}" {
		t.Fatalf("unexpected log fields %v", fields)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`examhub_http_requests_total{method="GET",route="/api/v1/sessions/{id}",status="418"} 1`,
		`examhub_events_total{event="session_submitted"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected metrics to contain %s", want)
		}
	}
}
