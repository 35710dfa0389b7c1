// Package notifier posts internal notifications to the configured webhook
// endpoint. Downstream consumers (CRM sync, staff alerting) subscribe there.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/donorflow/donorflow/pkg/steperr"
)

// WebhookNotifier implements domain.Notifier over HTTP POST
type WebhookNotifier struct {
	endpoint   string
	secret     string
	httpClient *http.Client
	logger     logger.Logger
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(endpoint, secret string, log logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint:   endpoint,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

// Notify delivers one notification to the webhook endpoint
func (n *WebhookNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	if n.endpoint == "" {
		return steperr.Permanent(fmt.Errorf("no webhook endpoint configured"))
	}

	body := map[string]interface{}{
		"topic":     notification.Topic,
		"payload":   notification.Payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return steperr.Permanent(fmt.Errorf("failed to marshal notification payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return steperr.Permanent(fmt.Errorf("failed to create notification request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return steperr.Transient(fmt.Errorf("notification request failed: %w", err))
	}
	defer resp.Body.Close()

	// Limit response read to 10KB
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024))
	if err != nil {
		return steperr.Transient(fmt.Errorf("failed to read notification response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return steperr.Transient(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(bodyBytes)))
	}
	if resp.StatusCode >= 400 {
		// 4xx is a config problem, a retry never fixes it
		return steperr.Permanent(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	n.logger.WithFields(map[string]interface{}{
		"topic":       notification.Topic,
		"status_code": resp.StatusCode,
	}).Debug("Notification delivered")
	return nil
}
