package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{}

func (failingNotifier) Channel() string { return "broken" }

func (failingNotifier) Notify(context.Context, *models.Notification) error {
	return errors.New("unreachable")
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	var calls int32
	var payload WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ws := NewWebhookSender(&WebhookConfig{URL: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	n := New(models.NotificationManualReconciliation, "Listing unknown", "check tx", map[string]interface{}{"tx_hash": "0x01"})

	require.NoError(t, ws.Notify(context.Background(), n))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "manual_reconciliation", payload.Type)
	assert.Equal(t, n.ID, payload.Notification.ID)
}

func TestWebhookGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ws := NewWebhookSender(&WebhookConfig{URL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	err := ws.Notify(context.Background(), New(models.NotificationSagaFailed, "t", "m", nil))
	assert.Error(t, err)
}

func TestRetryDelayIsCapped(t *testing.T) {
	ws := NewWebhookSender(&WebhookConfig{URL: "http://x", RetryDelay: time.Second, MaxDelay: 3 * time.Second})
	assert.Equal(t, time.Second, ws.retryDelay(2))
	assert.Equal(t, 2*time.Second, ws.retryDelay(3))
	assert.Equal(t, 3*time.Second, ws.retryDelay(4))
}

func TestManagerFansOutAndRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(metrics.NewManagerWithRegistry(reg), NewLogNotifier(), failingNotifier{})

	err := m.Notify(context.Background(), New(models.NotificationAgentSold, "sold", "agent sold", nil))
	assert.Error(t, err)

	sent, err := testutil.GatherAndCount(reg, "inft_notifications_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	failed, err := testutil.GatherAndCount(reg, "inft_notification_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestNewFromConfig(t *testing.T) {
	m := NewFromConfig(&config.NotificationConfig{}, nil)
	assert.Len(t, m.notifiers, 1)

	m = NewFromConfig(&config.NotificationConfig{Enabled: true, WebhookURL: "http://hook"}, nil)
	assert.Len(t, m.notifiers, 2)
	assert.NoError(t, NewLogNotifier().Notify(context.Background(), New(models.NotificationAgentSold, "t", "m", nil)))
}
