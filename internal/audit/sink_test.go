package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSinkDeliversEvent(t *testing.T) {
	var received Event
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "sink-token", time.Second, nil, nil)
	event := NewEvent("POST", "/fhir/Observation", nil, map[string]any{"resourceType": "Observation"}, "u1")
	sink.Emit(context.Background(), event)

	require.Equal(t, "Bearer sink-token", authHeader)
	require.Equal(t, "POST Observation", received.Message)
	require.Equal(t, "u1", received.User)
}

func TestSinkSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "", time.Second, nil, nil)
	sink.Emit(context.Background(), NewEvent("PUT", "/fhir/Patient/1", nil, nil, "u1"))
}

func TestSinkSwallowsTransportErrors(t *testing.T) {
	sink := NewSink("http://127.0.0.1:1/events", "", 200*time.Millisecond, nil, nil)
	sink.Emit(context.Background(), NewEvent("DELETE", "/fhir/Patient/1", nil, nil, "u1"))
}

func TestSinkWithoutURLLogsLocally(t *testing.T) {
	sink := NewSink("", "", time.Second, nil, nil)
	sink.Emit(context.Background(), NewEvent("POST", "/fhir/Patient", nil, nil, "u1"))
}
