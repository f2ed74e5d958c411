package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/l0p7/fhirgate/internal/config"
)

// Router dispatches the service's own endpoints and hands everything else to
// the proxy pipeline.
type Router struct {
	cfg     config.Config
	proxy   http.Handler
	metrics http.Handler
}

// NewRouter builds the top-level handler. proxy receives every path the
// router does not claim; metrics serves the Prometheus exposition.
func NewRouter(cfg config.Config, proxy, metrics http.Handler) *Router {
	if proxy == nil {
		proxy = http.NotFoundHandler()
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Router{cfg: cfg, proxy: proxy, metrics: metrics}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/healthz":
		rt.serveGET(w, r, func() { writeJSON(w, http.StatusOK, map[string]any{"status": "ok"}) })
	case path == "/metrics":
		rt.serveGET(w, r, func() { rt.metrics.ServeHTTP(w, r) })
	case path == "/fhir/.well-known/smart-configuration":
		rt.serveGET(w, r, func() { rt.serveSmartConfiguration(w) })
	case path == "/settings":
		rt.serveGET(w, r, func() { rt.serveSettings(w) })
	case strings.HasPrefix(path, "/settings/"):
		key := strings.TrimPrefix(path, "/settings/")
		rt.serveGET(w, r, func() { rt.serveSetting(w, key) })
	default:
		rt.proxy.ServeHTTP(w, r)
	}
}

func (rt *Router) serveGET(w http.ResponseWriter, r *http.Request, serve func()) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "method not allowed"})
		return
	}
	serve()
}

// serveSmartConfiguration publishes the OIDC discovery endpoints SMART on
// FHIR clients probe for.
func (rt *Router) serveSmartConfiguration(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authorization_endpoint": rt.cfg.OIDC.AuthorizeURL,
		"token_endpoint":         rt.cfg.OIDC.TokenURI,
		"introspection_endpoint": rt.cfg.OIDC.IntrospectionURI,
	})
}

// serveSettings returns the flat settings view minus blacklisted keys.
func (rt *Router) serveSettings(w http.ResponseWriter) {
	settings := rt.cfg.Settings()
	for key := range settings {
		if config.SettingBlacklisted(key) {
			delete(settings, key)
		}
	}
	writeJSON(w, http.StatusOK, settings)
}

// serveSetting returns one setting by its upper-snake key. Blacklisted keys
// are rejected; unknown keys report a null value.
func (rt *Router) serveSetting(w http.ResponseWriter, key string) {
	upper := strings.ToUpper(key)
	if config.SettingBlacklisted(upper) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "setting not available"})
		return
	}
	settings := rt.cfg.Settings()
	value, ok := settings[upper]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{upper: nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{upper: value})
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
