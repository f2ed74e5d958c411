package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/fhirgate/internal/config"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Auth.JWKSURL = "https://idp.example.com/certs"
	cfg.Upstream.URL = "http://backend:8086"
	cfg.OIDC.AuthorizeURL = "https://idp.example.com/auth"
	cfg.OIDC.TokenURI = "https://idp.example.com/token"
	cfg.OIDC.IntrospectionURI = "https://idp.example.com/introspect"
	cfg.Audit.Token = "very-secret"
	return cfg
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRouterHealth(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)
	rec, body := get(t, router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestRouterSmartConfiguration(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)
	rec, body := get(t, router, "/fhir/.well-known/smart-configuration")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://idp.example.com/auth", body["authorization_endpoint"])
	require.Equal(t, "https://idp.example.com/token", body["token_endpoint"])
	require.Equal(t, "https://idp.example.com/introspect", body["introspection_endpoint"])
}

func TestRouterSettingsWithholdsSecrets(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)
	rec, body := get(t, router, "/settings")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://idp.example.com/certs", body["JWKS_URL"])
	require.Equal(t, "http://backend:8086", body["UPSTREAM_SERVER"])
	require.NotContains(t, body, "KEYCACHE_BACKEND", "keys mentioning KEY are withheld")
}

func TestRouterSingleSetting(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)

	rec, body := get(t, router, "/settings/UPSTREAM_SERVER")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://backend:8086", body["UPSTREAM_SERVER"])

	rec, body = get(t, router, "/settings/upstream_server")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://backend:8086", body["UPSTREAM_SERVER"])

	rec, body = get(t, router, "/settings/NO_SUCH_SETTING")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "NO_SUCH_SETTING")
	require.Nil(t, body["NO_SUCH_SETTING"])

	rec, _ = get(t, router, "/settings/KEYCACHE_BACKEND")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterDelegatesToProxy(t *testing.T) {
	proxied := false
	proxy := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		proxied = true
		w.WriteHeader(http.StatusTeapot)
	})
	router := NewRouter(testConfig(), proxy, nil)

	rec, _ := get(t, router, "/fhir/Patient/1")
	require.True(t, proxied)
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRouterRejectsNonGETOnOwnEndpoints(t *testing.T) {
	router := NewRouter(testConfig(), nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/settings", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
