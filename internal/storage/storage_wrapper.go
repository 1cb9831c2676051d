package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	AgentStore
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage AgentStore, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		AgentStore:     storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		s.Backend(),
		operation,
		status,
		time.Since(start),
	)
}

// CreateAgent creates an agent and records metrics
func (s *StorageWithMetrics) CreateAgent(ctx context.Context, agent *models.UnifiedAgent) error {
	start := time.Now()
	err := s.AgentStore.CreateAgent(ctx, agent)
	s.record("create_agent", start, err)
	return err
}

// GetAgent reads an agent and records metrics
func (s *StorageWithMetrics) GetAgent(ctx context.Context, id string) (*models.UnifiedAgent, error) {
	start := time.Now()
	agent, err := s.AgentStore.GetAgent(ctx, id)
	s.record("get_agent", start, err)
	return agent, err
}

// ListAgents lists agents and records metrics
func (s *StorageWithMetrics) ListAgents(ctx context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error) {
	start := time.Now()
	agents, err := s.AgentStore.ListAgents(ctx, filter)
	s.record("list_agents", start, err)
	return agents, err
}

// SaveAgent saves an agent and records metrics
func (s *StorageWithMetrics) SaveAgent(ctx context.Context, agent *models.UnifiedAgent) error {
	start := time.Now()
	err := s.AgentStore.SaveAgent(ctx, agent)
	s.record("save_agent", start, err)
	return err
}

// SaveSagaProgress saves saga progress and records metrics
func (s *StorageWithMetrics) SaveSagaProgress(ctx context.Context, progress *models.SagaProgress) error {
	start := time.Now()
	err := s.AgentStore.SaveSagaProgress(ctx, progress)
	s.record("save_saga_progress", start, err)
	return err
}
