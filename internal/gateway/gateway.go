// Package gateway runs the proxy pipeline: bearer authentication, policy
// decisions, request and response transforms, upstream forwarding, and audit
// emission, in that order.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/l0p7/fhirgate/internal/audit"
	"github.com/l0p7/fhirgate/internal/fhir"
	"github.com/l0p7/fhirgate/internal/metrics"
	"github.com/l0p7/fhirgate/internal/policy"
	"github.com/l0p7/fhirgate/internal/token"
	"github.com/l0p7/fhirgate/internal/upstream"
)

// TokenVerifier authenticates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (policy.Claims, error)
}

// Forwarder sends one request to the backend.
type Forwarder interface {
	Forward(ctx context.Context, method, path, rawQuery string, header http.Header, body []byte) (*upstream.Response, error)
}

// AuditSink records audit events for mutating forwards.
type AuditSink interface {
	Emit(ctx context.Context, event audit.Event)
}

// suppressedMessage is returned when the response chain leaves a single
// resource unclaimed.
const suppressedMessage = "Access denied: no permission to view the requested resource"

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Gateway is the HTTP handler coordinating the proxy pipeline. The active
// policy registry is swapped atomically so directory reloads never interleave
// with in-flight requests.
type Gateway struct {
	logger       *slog.Logger
	engine       *policy.Engine
	registry     atomic.Pointer[policy.Registry]
	verifier     TokenVerifier
	upstream     Forwarder
	audit        AuditSink
	metrics      *metrics.Recorder
	whitelist    map[string]bool
	maxBodyBytes int64
}

// Options wires the gateway's collaborators.
type Options struct {
	Logger        *slog.Logger
	Engine        *policy.Engine
	Registry      *policy.Registry
	Verifier      TokenVerifier
	Upstream      Forwarder
	Audit         AuditSink
	Metrics       *metrics.Recorder
	PathWhitelist []string
	MaxBodyBytes  int64
}

// New builds the gateway handler.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = policy.NewEngine(logger)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	whitelist := make(map[string]bool, len(opts.PathWhitelist))
	for _, path := range opts.PathWhitelist {
		whitelist[path] = true
	}
	g := &Gateway{
		logger:       logger,
		engine:       engine,
		verifier:     opts.Verifier,
		upstream:     opts.Upstream,
		audit:        opts.Audit,
		metrics:      opts.Metrics,
		whitelist:    whitelist,
		maxBodyBytes: maxBody,
	}
	registry := opts.Registry
	if registry == nil {
		registry = policy.NewRegistry(nil, logger)
	}
	g.registry.Store(registry)
	return g
}

// SetRegistry swaps the active policy registry. In-flight requests keep the
// registry they started with.
func (g *Gateway) SetRegistry(registry *policy.Registry) {
	if registry == nil {
		return
	}
	g.registry.Store(registry)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := r.Method
	outcome, status := g.handle(w, r)
	g.metrics.ObserveProxy(method, outcome, status, time.Since(start))
}

// handle runs the pipeline and reports the outcome label and status written.
func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) (string, int) {
	if !allowedMethods[r.Method] {
		writeJSONField(w, http.StatusMethodNotAllowed, "message", "method not allowed")
		return "rejected", http.StatusMethodNotAllowed
	}

	if g.whitelist[r.URL.Path] {
		return g.forwardWhitelisted(w, r)
	}

	tokenString, err := token.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		writeJSONField(w, http.StatusBadRequest, "message", "token missing")
		return "unauthenticated", http.StatusBadRequest
	}
	claims, err := g.verifier.Verify(r.Context(), tokenString)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenMissing):
			writeJSONField(w, http.StatusBadRequest, "message", "token missing")
			return "unauthenticated", http.StatusBadRequest
		case errors.Is(err, token.ErrTokenExpired):
			writeJSONField(w, http.StatusUnauthorized, "message", "token expired")
			return "unauthenticated", http.StatusUnauthorized
		default:
			g.logger.Info("token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeJSONField(w, http.StatusUnauthorized, "message", "token invalid")
			return "unauthenticated", http.StatusUnauthorized
		}
	}

	rawBody, err := g.readBody(w, r)
	if err != nil {
		writeJSONField(w, http.StatusBadRequest, "message", "request body unreadable")
		return "rejected", http.StatusBadRequest
	}
	req := buildPolicyRequest(r, rawBody)
	registry := g.registry.Load()

	decision, ruleName := g.engine.Decide(req, claims, registry.DecisionRules())
	if decision.Terminal() {
		g.metrics.ObserveDecision(ruleName, string(decision.Outcome))
	}
	if decision.Outcome == policy.Deny {
		reason := decision.Reason
		if reason == "" {
			reason = "Request denied by policy"
		}
		g.logger.Info("request denied",
			slog.String("policy", ruleName),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("user", claims.UserIdentifier()))
		writeJSONField(w, http.StatusForbidden, "description", reason)
		return "denied", http.StatusForbidden
	}

	forwardBody := rawBody
	if (r.Method == http.MethodPost || r.Method == http.MethodPut) && req.IsJSON && req.Body != nil {
		transformed, changed := g.engine.TransformRequest(req, req.Body, claims, registry.RequestTransformers())
		if changed {
			encoded, err := json.Marshal(transformed)
			if err != nil {
				g.logger.Error("transformed request body not encodable, forwarding original", slog.Any("error", err))
			} else {
				forwardBody = encoded
				req.Body = transformed
			}
		}
	}

	resp, err := g.upstream.Forward(r.Context(), r.Method, r.URL.Path, r.URL.RawQuery, r.Header, forwardBody)
	if err != nil {
		g.logger.Error("upstream request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeJSONField(w, http.StatusBadGateway, "message", "upstream request failed")
		return "upstream_error", http.StatusBadGateway
	}

	// The decode attempt is unconditional: the security chain must see every
	// body that parses as a resource, whatever content type the backend
	// declared. Bodies that do not parse pass through raw.
	responseBody := resp.Body
	if r.Method == http.MethodGet && len(resp.Body) > 0 {
		if decoded, decodeErr := fhir.DecodeJSON(resp.Body); decodeErr == nil {
			if obj, ok := decoded.(map[string]any); ok {
				final, claimed, suppressed := g.engine.TransformResponse(req, obj, claims, registry.ResponseTransformers())
				switch {
				case suppressed && fhir.IsBundle(obj):
					final = fhir.EmptiedBundle(obj)
				case suppressed:
					g.logger.Info("response suppressed",
						slog.String("path", r.URL.Path),
						slog.String("resource", fhir.ResourceType(obj)),
						slog.String("user", claims.UserIdentifier()))
					writeJSONField(w, http.StatusUnauthorized, "description", suppressedMessage)
					return "suppressed", http.StatusUnauthorized
				case !claimed:
					final = nil
				}
				if final != nil {
					encoded, encodeErr := json.Marshal(final)
					if encodeErr != nil {
						g.logger.Error("transformed response body not encodable", slog.Any("error", encodeErr))
						writeJSONField(w, http.StatusBadGateway, "message", "upstream request failed")
						return "upstream_error", http.StatusBadGateway
					}
					responseBody = encoded
				}
			}
		}
	}

	g.emitAudit(r, req, claims)

	writeUpstream(w, resp, responseBody)
	return "allowed", resp.Status
}

// forwardWhitelisted passes the request through without authentication or
// policy involvement.
func (g *Gateway) forwardWhitelisted(w http.ResponseWriter, r *http.Request) (string, int) {
	rawBody, err := g.readBody(w, r)
	if err != nil {
		writeJSONField(w, http.StatusBadRequest, "message", "request body unreadable")
		return "rejected", http.StatusBadRequest
	}
	resp, err := g.upstream.Forward(r.Context(), r.Method, r.URL.Path, r.URL.RawQuery, r.Header, rawBody)
	if err != nil {
		g.logger.Error("upstream request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeJSONField(w, http.StatusBadGateway, "message", "upstream request failed")
		return "upstream_error", http.StatusBadGateway
	}
	writeUpstream(w, resp, resp.Body)
	return "whitelisted", resp.Status
}

// emitAudit records mutating forwards. Emission is best effort and never
// affects the response.
func (g *Gateway) emitAudit(r *http.Request, req *policy.Request, claims policy.Claims) {
	if g.audit == nil {
		return
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return
	}
	event := audit.NewEvent(r.Method, r.URL.Path, r.URL.Query(), req.Body, claims.UserIdentifier())
	g.audit.Emit(r.Context(), event)
}

func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// buildPolicyRequest constructs the policy-facing request view. The body is
// parsed once here; policies never see the reader.
func buildPolicyRequest(r *http.Request, rawBody []byte) *policy.Request {
	req := &policy.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Header:  r.Header,
		RawBody: rawBody,
	}
	if len(rawBody) > 0 && fhir.IsJSONMediaType(r.Header.Get("Content-Type")) {
		if decoded, err := fhir.DecodeJSON(rawBody); err == nil {
			if obj, ok := decoded.(map[string]any); ok {
				req.Body = obj
				req.IsJSON = true
			}
		}
	}
	return req
}

func writeJSONField(w http.ResponseWriter, status int, field, value string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{field: value})
}

// writeUpstream relays the backend response. Hop-by-hop headers stay on the
// upstream connection, and Content-Length is dropped since the body may have
// been rewritten.
func writeUpstream(w http.ResponseWriter, resp *upstream.Response, body []byte) {
	for name, values := range resp.Header {
		if upstream.IsHopByHop(name) || http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(body)
}
