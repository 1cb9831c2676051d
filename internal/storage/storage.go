package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// AgentStore persists the unified agent projection, saga progress and the
// marketplace sync cursor.
type AgentStore interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error
	Backend() string

	// Agent operations. Lookups return (nil, nil) when nothing matches.
	CreateAgent(ctx context.Context, agent *models.UnifiedAgent) error
	GetAgent(ctx context.Context, id string) (*models.UnifiedAgent, error)
	ListAgents(ctx context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error)
	SaveAgent(ctx context.Context, agent *models.UnifiedAgent) error
	FindAgentByListing(ctx context.Context, listingID uint64) (*models.UnifiedAgent, error)
	FindAgentByToken(ctx context.Context, contract, tokenID string) (*models.UnifiedAgent, error)

	// Saga progress
	SaveSagaProgress(ctx context.Context, progress *models.SagaProgress) error
	GetSagaProgress(ctx context.Context, sagaID string) (*models.SagaProgress, error)

	// Block tracking for the marketplace watcher
	GetLatestProcessedBlock(ctx context.Context) (uint64, error)
	SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	Backend         string `json:"backend"`
	TotalAgents     int64  `json:"total_agents"`
	ActiveAgents    int64  `json:"active_agents"`
	UnknownListings int64  `json:"unknown_listings"`
	FlaggedSagas    int64  `json:"flagged_sagas"`
	LatestBlock     uint64 `json:"latest_processed_block"`
	DatabaseSize    int64  `json:"database_size_bytes,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

// timeLayout is fixed width so lexical order of stored timestamps is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
