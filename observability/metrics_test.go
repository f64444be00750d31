package observability

import (
	"testing"
	"time"
)

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = &NoOpMetrics{}
	m.IncrementRequests(nil)
	m.RecordLatency(time.Millisecond, nil)
	m.RecordError("x", nil)
	m.RecordProviderCall("groq", true, time.Millisecond)
	m.RecordFallback("fast", "unconfigured")
	m.SetActiveRequests(1)
}

func TestDefaultMetrics(t *testing.T) {
	m := NewDefaultMetrics()
	m.IncrementRequests(map[string]string{"route": "/chat"})
	m.RecordLatency(2*time.Millisecond, nil)
	m.RecordError("boom", nil)
	m.RecordProviderCall("groq", false, time.Millisecond)
	m.RecordFallback("fast", "upstream_error")
	m.SetActiveRequests(3)
	s := m.GetStats()
	if s["requests"].(int64) != 1 {
		t.Fatalf("requests wrong: %+v", s)
	}
	if s["active_requests"].(int) != 3 {
		t.Fatalf("active wrong: %+v", s)
	}
	if s["provider_fails"].(map[string]int64)["groq"] != 1 {
		t.Fatalf("provider fails wrong: %+v", s)
	}
	if s["fallbacks"].(map[string]int64)["fast|upstream_error"] != 1 {
		t.Fatalf("fallbacks wrong: %+v", s)
	}
}
