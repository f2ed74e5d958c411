package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/fhirgate/internal/metrics"
)

// Sink delivers audit events to the configured log server. With no URL
// configured, events are written to the structured logger instead so a
// deployment without a log server still keeps a trail.
type Sink struct {
	url     string
	token   string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewSink builds a sink. timeout bounds each delivery attempt.
func NewSink(url, token string, timeout time.Duration, logger *slog.Logger, recorder *metrics.Recorder) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: recorder,
	}
}

// Emit records one event. All failures are logged and swallowed.
func (s *Sink) Emit(ctx context.Context, event Event) {
	if s.url == "" {
		s.logger.Info("audit event",
			slog.String("message", event.Message),
			slog.Any("tags", event.Tags),
			slog.String("user", event.User),
			slog.String("subject", event.Subject))
		s.metrics.ObserveAudit(metrics.AuditLogged)
		return
	}

	if err := s.deliver(ctx, event); err != nil {
		s.logger.Error("audit delivery failed", slog.String("message", event.Message), slog.Any("error", err))
		s.metrics.ObserveAudit(metrics.AuditFailed)
		return
	}
	s.metrics.ObserveAudit(metrics.AuditSent)
}

func (s *Sink) deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("audit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: send event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("audit: log server returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
