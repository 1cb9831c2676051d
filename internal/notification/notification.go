// Package notification alerts operators about agents that need manual
// reconciliation and about sagas that failed after an on-chain side effect.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Notifier delivers a notification over one channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, n *models.Notification) error
}

// New builds a notification with a fresh id.
func New(kind models.NotificationType, title, message string, data map[string]interface{}) *models.Notification {
	return &models.Notification{
		ID:        utils.GenerateID("ntf"),
		Type:      kind,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct {
	logger *logrus.Entry
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: utils.ComponentLogger("notification")}
}

func (l *LogNotifier) Channel() string { return "log" }

// Notify logs the notification at warn level
func (l *LogNotifier) Notify(_ context.Context, n *models.Notification) error {
	fields := logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
		"title":           n.Title,
	}
	for k, v := range n.Data {
		fields[k] = v
	}
	l.logger.WithFields(fields).Warn(n.Message)
	return nil
}

// Manager fans a notification out to every channel and records metrics.
type Manager struct {
	notifiers []Notifier
	metrics   *metrics.PrometheusMetrics
	logger    *logrus.Entry
}

// NewManager creates a manager over the given channels
func NewManager(metricsManager *metrics.Manager, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		metrics:   metricsManager.GetPrometheusMetrics(),
		logger:    utils.ComponentLogger("notification"),
	}
}

// NewFromConfig always logs and adds a webhook channel when one is configured.
func NewFromConfig(cfg *config.NotificationConfig, metricsManager *metrics.Manager) *Manager {
	notifiers := []Notifier{NewLogNotifier()}
	if cfg != nil && cfg.Enabled && cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookSender(&WebhookConfig{
			URL:        cfg.WebhookURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}))
	}
	return NewManager(metricsManager, notifiers...)
}

func (m *Manager) Channel() string { return "multi" }

// Notify delivers n to every channel. A failing channel does not stop the others.
func (m *Manager) Notify(ctx context.Context, n *models.Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			m.metrics.RecordNotificationFailure(notifier.Channel(), string(n.Type))
			m.logger.WithError(err).WithFields(logrus.Fields{
				"channel":         notifier.Channel(),
				"notification_id": n.ID,
			}).Error("Notification delivery failed")
			errs = append(errs, err)
			continue
		}
		m.metrics.RecordNotificationSent(notifier.Channel(), string(n.Type))
	}
	return errors.Join(errs...)
}
