package observability

import (
	"sync"
	"time"
)

// Metrics defines the interface for collecting chat service metrics
type Metrics interface {
	// IncrementRequests increments the request counter
	IncrementRequests(labels map[string]string)

	// RecordLatency records request latency
	RecordLatency(duration time.Duration, labels map[string]string)

	// RecordError increments error counter
	RecordError(errorType string, labels map[string]string)

	// RecordProviderCall counts one outbound provider call and its outcome
	RecordProviderCall(provider string, success bool, duration time.Duration)

	// RecordFallback counts a reply served by the fallback responder
	RecordFallback(model string, reason string)

	// SetActiveRequests sets the gauge for in-flight requests
	SetActiveRequests(count int)
}

// NoOpMetrics is a no-operation implementation of Metrics
type NoOpMetrics struct{}

// IncrementRequests implements Metrics interface
func (n *NoOpMetrics) IncrementRequests(labels map[string]string) {}

// RecordLatency implements Metrics interface
func (n *NoOpMetrics) RecordLatency(duration time.Duration, labels map[string]string) {}

// RecordError implements Metrics interface
func (n *NoOpMetrics) RecordError(errorType string, labels map[string]string) {}

// RecordProviderCall implements Metrics interface
func (n *NoOpMetrics) RecordProviderCall(provider string, success bool, duration time.Duration) {}

// RecordFallback implements Metrics interface
func (n *NoOpMetrics) RecordFallback(model string, reason string) {}

// SetActiveRequests implements Metrics interface
func (n *NoOpMetrics) SetActiveRequests(count int) {}

// DefaultMetrics is a simple in-memory metrics collector
type DefaultMetrics struct {
	mu             sync.Mutex
	requests       int64
	totalLatency   time.Duration
	errors         map[string]int64
	providerCalls  map[string]int64
	providerFails  map[string]int64
	fallbacks      map[string]int64
	activeRequests int
}

// NewDefaultMetrics creates a new DefaultMetrics instance
func NewDefaultMetrics() *DefaultMetrics {
	return &DefaultMetrics{
		errors:        make(map[string]int64),
		providerCalls: make(map[string]int64),
		providerFails: make(map[string]int64),
		fallbacks:     make(map[string]int64),
	}
}

// IncrementRequests implements Metrics interface
func (m *DefaultMetrics) IncrementRequests(labels map[string]string) {
	m.mu.Lock()
	m.requests++
	m.mu.Unlock()
}

// RecordLatency implements Metrics interface
func (m *DefaultMetrics) RecordLatency(duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	m.totalLatency += duration
	m.mu.Unlock()
}

// RecordError implements Metrics interface
func (m *DefaultMetrics) RecordError(errorType string, labels map[string]string) {
	m.mu.Lock()
	m.errors[errorType]++
	m.mu.Unlock()
}

// RecordProviderCall implements Metrics interface
func (m *DefaultMetrics) RecordProviderCall(provider string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCalls[provider]++
	if !success {
		m.providerFails[provider]++
	}
}

// RecordFallback implements Metrics interface
func (m *DefaultMetrics) RecordFallback(model string, reason string) {
	m.mu.Lock()
	m.fallbacks[model+"|"+reason]++
	m.mu.Unlock()
}

// SetActiveRequests implements Metrics interface
func (m *DefaultMetrics) SetActiveRequests(count int) {
	m.mu.Lock()
	m.activeRequests = count
	m.mu.Unlock()
}

// GetStats returns a snapshot of the current statistics
func (m *DefaultMetrics) GetStats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"requests":        m.requests,
		"total_latency":   m.totalLatency.String(),
		"errors":          copyCounts(m.errors),
		"provider_calls":  copyCounts(m.providerCalls),
		"provider_fails":  copyCounts(m.providerFails),
		"fallbacks":       copyCounts(m.fallbacks),
		"active_requests": m.activeRequests,
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Ensure implementations satisfy the interface
var _ Metrics = (*NoOpMetrics)(nil)
var _ Metrics = (*DefaultMetrics)(nil)
