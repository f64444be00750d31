package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/observability"
)

// Fallback reasons reported to logs and metrics
const (
	ReasonUnregistered  = "unregistered"
	ReasonUnconfigured  = "unconfigured"
	ReasonUpstreamError = "upstream_error"
	ReasonInternal      = "internal_error"
)

// RouterConfig wires a Router. Providers are fixed for the router's lifetime.
type RouterConfig struct {
	Providers map[ModelID]Provider
	Fallback  *Responder
	Logger    logrus.FieldLogger
	Metrics   observability.Metrics
	Tracer    observability.Tracer
}

// Router selects a Provider by model id, invokes it and degrades to the
// fallback Responder when the provider is unavailable or fails.
type Router struct {
	providers map[ModelID]Provider
	fallback  *Responder
	log       logrus.FieldLogger
	metrics   observability.Metrics
	tracer    observability.Tracer
}

// NewRouter validates cfg and returns a Router. Provider keys outside the
// closed model set are rejected.
func NewRouter(cfg RouterConfig) (*Router, error) {
	providers := make(map[ModelID]Provider, len(cfg.Providers))
	for id, p := range cfg.Providers {
		if !id.Valid() {
			return nil, fmt.Errorf("cannot register provider for unknown model %q", id)
		}
		if p == nil {
			continue
		}
		providers[id] = p
	}
	r := &Router{
		providers: providers,
		fallback:  cfg.Fallback,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
	if r.fallback == nil {
		r.fallback = NewResponder(0)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.metrics == nil {
		r.metrics = &observability.NoOpMetrics{}
	}
	if r.tracer == nil {
		r.tracer = &observability.NoOpTracer{}
	}
	return r, nil
}

// Route answers message with the provider behind requested. It never fails:
// every provider problem is logged and answered by the fallback Responder.
// ModelUsed is the requested id after default coercion on both paths.
func (r *Router) Route(ctx context.Context, requested string, message string, history []Message) Result {
	start := time.Now()
	model := NormalizeModel(requested)
	log := r.log.WithFields(logrus.Fields{"model": model, "requested_model": requested})
	if id, ok := observability.RequestIDFromContext(ctx); ok {
		log = log.WithField("request_id", id)
	}
	if string(model) != requested {
		log.Debug("Requested model not recognized, using default")
	}

	p, ok := r.providers[model]
	if !ok {
		log.WithField("event", "fallback").Info("No provider registered, using fallback")
		return r.fallbackResult(ctx, model, message, ReasonUnregistered, start)
	}
	log = log.WithField("provider", p.Name())
	if !p.Configured() {
		log.WithField("event", "fallback").Info("Provider not configured, using fallback")
		return r.fallbackResult(ctx, model, message, ReasonUnconfigured, start)
	}

	text, err := r.generate(ctx, p, model, message, TrimHistory(history, MaxHistory))
	if err != nil {
		reason := classify(err)
		fields := logrus.Fields{"event": "provider_failed", "error": err.Error(), "reason": reason}
		if llmErr, ok := IsLLMError(err); ok {
			fields["error_type"] = llmErr.Type
			if llmErr.HTTPStatus != 0 {
				fields["http_status"] = llmErr.HTTPStatus
			}
		}
		entry := log.WithFields(fields)
		switch {
		case IsAuthenticationError(err):
			entry.Error("Provider rejected credentials, using fallback")
		case IsRateLimitError(err):
			entry.WithField("rate_limited", true).Warn("Provider rate limited, using fallback")
		default:
			entry.Warn("Provider call failed, using fallback")
		}
		return r.fallbackResult(ctx, model, message, reason, start)
	}

	return Result{Text: text, ModelUsed: model, Latency: time.Since(start)}
}

// generate performs the single provider call, converting panics into errors
// so that a misbehaving adapter still ends in the fallback path.
func (r *Router) generate(ctx context.Context, p Provider, model ModelID, message string, history []Message) (text string, err error) {
	span, ctx := r.tracer.StartSpan(ctx, "provider.generate")
	span.SetAttribute(observability.AttrProvider, p.Name())
	span.SetAttribute(observability.AttrModel, string(model))
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), rec)
		}
		r.metrics.RecordProviderCall(p.Name(), err == nil, time.Since(start))
		if err != nil {
			span.SetStatus(observability.StatusCodeError, err.Error())
			span.SetAttribute(observability.AttrErrorType, classify(err))
		} else {
			span.SetStatus(observability.StatusCodeOk, "")
		}
		span.End()
	}()
	return p.Generate(ctx, message, history)
}

func (r *Router) fallbackResult(ctx context.Context, model ModelID, message, reason string, start time.Time) Result {
	r.metrics.RecordFallback(string(model), reason)
	return Result{
		Text:      r.fallback.Generate(ctx, message),
		ModelUsed: model,
		Fallback:  true,
		Latency:   time.Since(start),
	}
}

// classify maps a provider failure onto a fallback reason
func classify(err error) string {
	llmErr, ok := IsLLMError(err)
	switch {
	case !ok:
		return ReasonInternal
	case llmErr.Type == ErrorTypeUnconfigured:
		return ReasonUnconfigured
	default:
		return ReasonUpstreamError
	}
}

// Models returns catalog entries for every model with live configuration state
func (r *Router) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(AllModels))
	for _, id := range AllModels {
		info := catalog[id]
		info.Configured = r.configured(id)
		out = append(out, info)
	}
	return out
}

// Available returns the models whose provider is currently configured
func (r *Router) Available() []ModelID {
	var out []ModelID
	for _, id := range AllModels {
		if r.configured(id) {
			out = append(out, id)
		}
	}
	return out
}

// Default prefers the fast model when configured, then the first configured
// model, and falls back to DefaultModel when nothing is configured.
func (r *Router) Default() ModelID {
	available := r.Available()
	for _, id := range available {
		if id == DefaultModel {
			return id
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return DefaultModel
}

func (r *Router) configured(id ModelID) bool {
	p, ok := r.providers[id]
	return ok && p.Configured()
}
