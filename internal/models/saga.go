package models

import "time"

// SagaStatus is the state of the step a saga is currently on.
type SagaStatus string

const (
	SagaStatusRunning   SagaStatus = "running"
	SagaStatusConfirmed SagaStatus = "confirmed"
	SagaStatusFailed    SagaStatus = "failed"
	// SagaStatusFlagged marks a saga that finished but needs manual reconciliation.
	SagaStatusFlagged SagaStatus = "flagged"
)

// SagaProgress is the persisted "current step" pointer of a saga instance.
type SagaProgress struct {
	SagaID    string     `json:"saga_id"`
	Kind      string     `json:"kind"`
	Step      string     `json:"step"`
	Status    SagaStatus `json:"status"`
	AgentID   string     `json:"agent_id,omitempty"`
	TxHash    string     `json:"tx_hash,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
