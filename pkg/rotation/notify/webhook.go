package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systmms/payment-authgate/internal/config"
)

// WebhookProvider delivers Events as JSON POSTs, with bounded retry.
type WebhookProvider struct {
	name        string
	url         string
	method      string
	headers     map[string]string
	events      []string
	maxAttempts int
	backoff     string
	initialWait time.Duration
	client      *http.Client
}

// NewWebhookProvider builds a WebhookProvider from the kept
// config.WebhookNotificationConfig, applying the same defaults the
// coordinator's ambient config layer uses elsewhere (10s timeout, 3
// attempts, exponential backoff starting at 1s).
func NewWebhookProvider(cfg config.WebhookNotificationConfig) (*WebhookProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook %q: URL is required", cfg.Name)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("webhook %q: invalid URL %q", cfg.Name, cfg.URL)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := 10 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	maxAttempts := 3
	backoff := "exponential"
	if cfg.Retry != nil {
		if cfg.Retry.MaxAttempts > 0 {
			maxAttempts = cfg.Retry.MaxAttempts
		}
		if cfg.Retry.Backoff != "" {
			backoff = cfg.Retry.Backoff
		}
	}

	return &WebhookProvider{
		name:        cfg.Name,
		url:         cfg.URL,
		method:      method,
		headers:     cfg.Headers,
		events:      cfg.Events,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		initialWait: time.Second,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *WebhookProvider) Name() string {
	if p.name != "" {
		return "webhook:" + p.name
	}
	return "webhook"
}

func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	if len(p.events) == 0 {
		return true
	}
	for _, e := range p.events {
		if strings.EqualFold(e, string(eventType)) {
			return true
		}
	}
	return false
}

func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event":        string(event.Type),
		"clientId":     event.ClientID,
		"rotationId":   event.RotationID,
		"fromState":    event.FromState,
		"toState":      event.ToState,
		"reason":       event.Reason,
		"oldVersionId": event.OldVersionID,
		"newVersionId": event.NewVersionID,
		"initiatedBy":  event.InitiatedBy,
		"metadata":     event.Metadata,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.doSend(ctx, payload); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoffFor(attempt)):
			}
		}
	}
	return fmt.Errorf("webhook %s failed after %d attempts: %w", p.Name(), p.maxAttempts, lastErr)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.method), p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookProvider) backoffFor(attempt int) time.Duration {
	switch strings.ToLower(p.backoff) {
	case "linear":
		return p.initialWait * time.Duration(attempt)
	case "fixed":
		return p.initialWait
	default: // exponential
		return p.initialWait * time.Duration(1<<(attempt-1))
	}
}

var _ Provider = (*WebhookProvider)(nil)
