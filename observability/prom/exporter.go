package prom

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KamdynS/chatwithme/observability"
)

// Exporter implements observability.Metrics and exposes a Prometheus text endpoint.
// It aggregates counters and simple latency sums.
type Exporter struct {
	mu            sync.Mutex
	requests      map[string]float64
	latency       map[string]float64
	errors        map[string]float64
	providerCalls map[string]float64
	providerSecs  map[string]float64
	fallbacks     map[string]float64
	active        float64
}

// New creates a new in-process exporter.
func New() *Exporter {
	return &Exporter{
		requests:      make(map[string]float64),
		latency:       make(map[string]float64),
		errors:        make(map[string]float64),
		providerCalls: make(map[string]float64),
		providerSecs:  make(map[string]float64),
		fallbacks:     make(map[string]float64),
	}
}

// Handler returns an HTTP handler for a /metrics endpoint.
func Handler(e *Exporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		e.mu.Lock()
		defer e.mu.Unlock()
		writeSeries(w, "chatwithme_requests_total", []string{"route", "method", "status_code"}, e.requests)
		writeSeries(w, "chatwithme_request_latency_seconds_sum", []string{"route", "method", "status_code"}, e.latency)
		writeSeries(w, "chatwithme_errors_total", []string{"type", "route"}, e.errors)
		writeSeries(w, "chatwithme_provider_calls_total", []string{"provider", "outcome"}, e.providerCalls)
		writeSeries(w, "chatwithme_provider_latency_seconds_sum", []string{"provider"}, e.providerSecs)
		writeSeries(w, "chatwithme_fallbacks_total", []string{"model", "reason"}, e.fallbacks)
		fmt.Fprintf(w, "chatwithme_active_requests %s\n", formatFloat(e.active))
	})
}

// writeSeries renders one metric family; keys hold label values joined by "|".
func writeSeries(w http.ResponseWriter, name string, labelNames []string, series map[string]float64) {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := strings.Split(k, "|")
		pairs := make([]string, 0, len(labelNames))
		for i, ln := range labelNames {
			v := ""
			if i < len(values) {
				v = values[i]
			}
			pairs = append(pairs, ln+"=\""+v+"\"")
		}
		fmt.Fprintf(w, "%s{%s} %s\n", name, strings.Join(pairs, ","), formatFloat(series[k]))
	}
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func (e *Exporter) IncrementRequests(labels map[string]string) {
	e.mu.Lock()
	e.requests[routeKey(labels)]++
	e.mu.Unlock()
}

func (e *Exporter) RecordLatency(d time.Duration, labels map[string]string) {
	e.mu.Lock()
	e.latency[routeKey(labels)] += d.Seconds()
	e.mu.Unlock()
}

func (e *Exporter) RecordError(errorType string, labels map[string]string) {
	e.mu.Lock()
	e.errors[errorType+"|"+labels["route"]]++
	e.mu.Unlock()
}

func (e *Exporter) RecordProviderCall(provider string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	e.mu.Lock()
	e.providerCalls[provider+"|"+outcome]++
	e.providerSecs[provider] += d.Seconds()
	e.mu.Unlock()
}

func (e *Exporter) RecordFallback(model string, reason string) {
	e.mu.Lock()
	e.fallbacks[model+"|"+reason]++
	e.mu.Unlock()
}

func (e *Exporter) SetActiveRequests(count int) {
	e.mu.Lock()
	e.active = float64(count)
	e.mu.Unlock()
}

func routeKey(labels map[string]string) string {
	return labels["route"] + "|" + labels["method"] + "|" + labels["status_code"]
}

// Ensure interface compliance
var _ observability.Metrics = (*Exporter)(nil)
