package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// KeyCacheOutcome captures the result of a JWKS key cache lookup.
type KeyCacheOutcome string

const (
	// KeyCacheHit indicates the lookup reused a cached signing key.
	KeyCacheHit KeyCacheOutcome = "hit"
	// KeyCacheMiss indicates the key had to be fetched from the JWKS endpoint.
	KeyCacheMiss KeyCacheOutcome = "miss"
	// KeyCacheError indicates the lookup failed due to an error.
	KeyCacheError KeyCacheOutcome = "error"
)

// AuditOutcome captures the result of an audit event emission.
type AuditOutcome string

const (
	// AuditSent indicates the event reached the configured log server.
	AuditSent AuditOutcome = "sent"
	// AuditLogged indicates the event was written to the local logger only.
	AuditLogged AuditOutcome = "logged"
	// AuditFailed indicates the emission failed and was swallowed.
	AuditFailed AuditOutcome = "failed"
)

// Recorder publishes Prometheus metrics for proxy activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec

	policyDecisions  *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	keyCacheLookups  *prometheus.CounterVec
	auditEvents      *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	proxyRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fhirgate",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Total proxied requests processed by the pipeline.",
	}, []string{"method", "outcome", "status_code"})

	proxyLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fhirgate",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed proxied requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "outcome"})

	policyDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fhirgate",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Terminal policy decisions keyed by the rule that produced them.",
	}, []string{"policy", "outcome"})

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fhirgate",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests forwarded to the FHIR backend.",
	}, []string{"method", "status_code"})

	keyCacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fhirgate",
		Subsystem: "keycache",
		Name:      "lookups_total",
		Help:      "JWKS signing key lookups against the key cache.",
	}, []string{"result"})

	auditEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fhirgate",
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Audit events emitted for mutating forwards.",
	}, []string{"result"})

	reg.MustRegister(proxyRequests, proxyLatency, policyDecisions, upstreamRequests, keyCacheLookups, auditEvents)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		proxyRequests:    proxyRequests,
		proxyLatency:     proxyLatency,
		policyDecisions:  policyDecisions,
		upstreamRequests: upstreamRequests,
		keyCacheLookups:  keyCacheLookups,
		auditEvents:      auditEvents,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveProxy records the outcome and latency for one completed request.
func (r *Recorder) ObserveProxy(method, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	methodLabel := normalizeLabel(method)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.proxyRequests.WithLabelValues(methodLabel, outcomeLabel, statusLabel).Inc()
	r.proxyLatency.WithLabelValues(methodLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveDecision records a terminal policy decision.
func (r *Recorder) ObserveDecision(policy, outcome string) {
	if r == nil {
		return
	}
	r.policyDecisions.WithLabelValues(normalizeLabel(policy), normalizeLabel(outcome)).Inc()
}

// ObserveUpstream records one forwarded request and the backend status.
func (r *Recorder) ObserveUpstream(method string, statusCode int) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.upstreamRequests.WithLabelValues(normalizeLabel(method), statusLabel).Inc()
}

// ObserveKeyCache records the result of a signing key lookup.
func (r *Recorder) ObserveKeyCache(result KeyCacheOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(KeyCacheMiss)
	}
	r.keyCacheLookups.WithLabelValues(label).Inc()
}

// ObserveAudit records the result of one audit emission.
func (r *Recorder) ObserveAudit(result AuditOutcome) {
	if r == nil {
		return
	}
	label := string(result)
	if label == "" {
		label = string(AuditFailed)
	}
	r.auditEvents.WithLabelValues(label).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
