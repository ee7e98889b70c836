// Package notify delivers pipeline events to an external webhook. Delivery is
// best-effort: callers log failures but never let them fail the triggering
// operation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AuthFailure describes a pipeline paused by an authentication error.
type AuthFailure struct {
	Event        string `json:"event"`
	Service      string `json:"service"`
	ProjectPath  string `json:"project_path"`
	ProjectName  string `json:"project_name,omitempty"`
	ErrorKind    string `json:"error_kind"`
	ErrorMessage string `json:"error_message"`
	PausedPhase  string `json:"paused_phase"`
	Timestamp    string `json:"timestamp"`
}

// AuthRestored announces that a service's credentials verify again.
type AuthRestored struct {
	Event      string `json:"event"`
	Service    string `json:"service"`
	SourceName string `json:"source_name"`
	Timestamp  string `json:"timestamp"`
}

// Notifier is the outbound notification sink.
type Notifier interface {
	SendAuthFailure(f AuthFailure) error
	SendAuthRestored(r AuthRestored) error
}

// Webhook posts JSON payloads to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook notifier. A nil logger disables logging.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (w *Webhook) SendAuthFailure(f AuthFailure) error {
	f.Event = "auth_failure"
	return w.post(f)
}

func (w *Webhook) SendAuthRestored(r AuthRestored) error {
	r.Event = "auth_restored"
	return w.post(r)
}

func (w *Webhook) post(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", zap.String("url", w.url), zap.Error(err))
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.logger.Warn("webhook rejected", zap.String("url", w.url), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
