package prom

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExporterMetricsAndHandler(t *testing.T) {
	e := New()
	e.IncrementRequests(map[string]string{"route": "/chat", "method": "POST", "status_code": "200"})
	e.RecordLatency(3*time.Millisecond, map[string]string{"route": "/chat", "method": "POST", "status_code": "200"})
	e.RecordError("internal_error", map[string]string{"route": "/chat"})
	e.RecordProviderCall("groq", false, time.Millisecond)
	e.RecordFallback("fast", "upstream_error")
	e.SetActiveRequests(2)

	rr := httptest.NewRecorder()
	Handler(e).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`chatwithme_requests_total{route="/chat",method="POST",status_code="200"} 1`,
		`chatwithme_provider_calls_total{provider="groq",outcome="failure"} 1`,
		`chatwithme_fallbacks_total{model="fast",reason="upstream_error"} 1`,
		"chatwithme_active_requests 2",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in metrics body:\n%s", want, body)
		}
	}
}
