package storage

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// MemoryStorage is the process-local fallback store. Agents are kept newest
// first; a restart loses everything.
type MemoryStorage struct {
	mu          sync.RWMutex
	agents      []*models.UnifiedAgent
	sagas       map[string]*models.SagaProgress
	latestBlock uint64
	logger      *logrus.Entry
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sagas:  make(map[string]*models.SagaProgress),
		logger: utils.ComponentLogger("storage").WithField("backend", "memory"),
	}
}

func (m *MemoryStorage) Connect() error  { return nil }
func (m *MemoryStorage) Close() error    { return nil }
func (m *MemoryStorage) Ping() error     { return nil }
func (m *MemoryStorage) Migrate() error  { return nil }
func (m *MemoryStorage) Backend() string { return "memory" }

// CreateAgent inserts at the head of the list
func (m *MemoryStorage) CreateAgent(_ context.Context, agent *models.UnifiedAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(agent.ID) >= 0 {
		return utils.NewAppError(utils.ErrCodeDatabase, "Agent already exists", agent.ID)
	}
	m.agents = append([]*models.UnifiedAgent{agent.Clone()}, m.agents...)
	return nil
}

// SaveAgent replaces the stored record in place, or inserts it at the head
func (m *MemoryStorage) SaveAgent(_ context.Context, agent *models.UnifiedAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(agent.ID); i >= 0 {
		m.agents[i] = agent.Clone()
		return nil
	}
	m.agents = append([]*models.UnifiedAgent{agent.Clone()}, m.agents...)
	return nil
}

// GetAgent retrieves an agent by id
func (m *MemoryStorage) GetAgent(_ context.Context, id string) (*models.UnifiedAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.agents[i].Clone(), nil
	}
	return nil, nil
}

// ListAgents returns the agents matching filter in insertion order, newest first
func (m *MemoryStorage) ListAgents(_ context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.UnifiedAgent, 0, len(m.agents))
	for _, a := range m.agents {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// FindAgentByListing retrieves the agent carrying a listing id
func (m *MemoryStorage) FindAgentByListing(_ context.Context, listingID uint64) (*models.UnifiedAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.ListingID == listingID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

// FindAgentByToken retrieves the agent minted as (contract, tokenID)
func (m *MemoryStorage) FindAgentByToken(_ context.Context, contract, tokenID string) (*models.UnifiedAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if utils.SameAddress(a.AgentContractAddress, contract) && a.TokenID == tokenID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

// SaveSagaProgress upserts the current step of a saga
func (m *MemoryStorage) SaveSagaProgress(_ context.Context, p *models.SagaProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *p
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = nowFunc()
	}
	m.sagas[p.SagaID] = &c
	return nil
}

// GetSagaProgress returns the saga's last recorded step, or nil
func (m *MemoryStorage) GetSagaProgress(_ context.Context, sagaID string) (*models.SagaProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.sagas[sagaID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

// GetLatestProcessedBlock returns the latest processed block number
func (m *MemoryStorage) GetLatestProcessedBlock(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestBlock, nil
}

// SetLatestProcessedBlock sets the latest processed block number
func (m *MemoryStorage) SetLatestProcessedBlock(_ context.Context, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = blockNumber
	return nil
}

// GetStorageStats returns in-memory counters
func (m *MemoryStorage) GetStorageStats(context.Context) (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &StorageStats{Backend: "memory", TotalAgents: int64(len(m.agents)), LatestBlock: m.latestBlock}
	for _, a := range m.agents {
		if a.Active {
			stats.ActiveAgents++
		}
		if !a.Listed() {
			stats.UnknownListings++
		}
	}
	for _, p := range m.sagas {
		if p.Status == models.SagaStatusFlagged {
			stats.FlaggedSagas++
		}
	}
	return stats, nil
}

func (m *MemoryStorage) indexOf(id string) int {
	for i, a := range m.agents {
		if a.ID == id {
			return i
		}
	}
	return -1
}
