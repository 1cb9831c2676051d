package models

import (
	"time"
)

// NotificationType defines the kind of operator alert
type NotificationType string

const (
	NotificationManualReconciliation NotificationType = "manual_reconciliation"
	NotificationSagaFailed           NotificationType = "saga_failed"
	NotificationAgentSold            NotificationType = "agent_sold"
)

// Notification represents an alert sent to operators
type Notification struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
