package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// WebhookConfig defines webhook configuration
type WebhookConfig struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxDelay   time.Duration
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Timestamp    time.Time            `json:"timestamp"`
	Source       string               `json:"source"`
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification"`
	Version      string               `json:"version"`
}

// WebhookSender posts notifications to an HTTP endpoint with retries
type WebhookSender struct {
	config     *WebhookConfig
	logger     *logrus.Entry
	httpClient *http.Client
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(config *WebhookConfig) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}

	return &WebhookSender{
		config: config,
		logger: utils.ComponentLogger("webhook_sender"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (ws *WebhookSender) Channel() string { return "webhook" }

// Notify sends the notification, retrying non-2xx responses and transport errors
func (ws *WebhookSender) Notify(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(&WebhookPayload{
		Timestamp:    time.Now().UTC(),
		Source:       "inft-marketplace",
		Type:         string(n.Type),
		Notification: n,
		Version:      "1.0",
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= ws.config.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := ws.retryDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		status, err := ws.send(ctx, body)
		if err == nil {
			ws.logger.WithFields(logrus.Fields{
				"url":             ws.config.URL,
				"status_code":     status,
				"notification_id": n.ID,
			}).Debug("Webhook sent")
			return nil
		}
		lastErr = err

		if attempt < ws.config.MaxRetries {
			ws.logger.WithError(err).WithFields(logrus.Fields{
				"url":     ws.config.URL,
				"attempt": attempt,
			}).Warn("Webhook attempt failed, retrying")
		}
	}
	return lastErr
}

func (ws *WebhookSender) send(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error())
	}
	for key, value := range ws.config.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "INFT-Marketplace/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", utils.GenerateID("req"))

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, utils.NewAppError(utils.ErrCodeConnection,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, msg))
	}
	return resp.StatusCode, nil
}

// retryDelay doubles the base delay per attempt, capped at MaxDelay.
func (ws *WebhookSender) retryDelay(attempt int) time.Duration {
	delay := time.Duration(int64(ws.config.RetryDelay) << uint(attempt-2))
	if delay > ws.config.MaxDelay || delay < 0 {
		delay = ws.config.MaxDelay
	}
	return delay
}
