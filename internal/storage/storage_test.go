package storage

import (
	"context"
	"path/filepath"
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

func newSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s := NewSQLiteStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "agents.db"),
		MaxConnections:   4,
	})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAgent(id, creator string, createdAt time.Time) *models.UnifiedAgent {
	return &models.UnifiedAgent{
		ID:                   id,
		TokenID:              "1",
		AgentContractAddress: "0x00000000000000000000000000000000000000c1",
		Name:                 "Agent " + id,
		Category:             "Trading",
		Price:                "0.5",
		PriceWei:             "500000000000000000",
		Creator:              creator,
		CurrentOwner:         creator,
		Active:               true,
		CreatedAt:            createdAt,
		Social:               models.Social{Website: "https://example.com"},
		Capabilities:         []string{"chat", "trade"},
		ComputeModel:         "gpt-4",
	}
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, store AgentStore) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	creator := "0x00000000000000000000000000000000000000aa"

	missing, err := store.GetAgent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.CreateAgent(ctx, sampleAgent("a1", creator, base)))
	require.NoError(t, store.CreateAgent(ctx, sampleAgent("a2", creator, base.Add(time.Second))))
	other := sampleAgent("a3", "0x00000000000000000000000000000000000000bb", base.Add(2*time.Second))
	other.Category = "Art"
	other.TokenID = "2"
	require.NoError(t, store.CreateAgent(ctx, other))

	assert.Error(t, store.CreateAgent(ctx, sampleAgent("a1", creator, base)))

	got, err := store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Agent a1", got.Name)
	assert.Equal(t, []string{"chat", "trade"}, got.Capabilities)
	assert.Equal(t, "https://example.com", got.Social.Website)
	assert.True(t, got.CreatedAt.Equal(base))

	all, err := store.ListAgents(ctx, models.AgentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a3", all[0].ID)
	assert.Equal(t, "a1", all[2].ID)

	byCreator, err := store.ListAgents(ctx, models.AgentFilter{Creator: "0x00000000000000000000000000000000000000AA"})
	require.NoError(t, err)
	assert.Len(t, byCreator, 2)

	byCategory, err := store.ListAgents(ctx, models.AgentFilter{Category: "art"})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "a3", byCategory[0].ID)

	got.ListingID = 7
	got.Active = false
	got.CurrentOwner = "0x00000000000000000000000000000000000000cc"
	require.NoError(t, store.SaveAgent(ctx, got))

	inactive := false
	sold, err := store.ListAgents(ctx, models.AgentFilter{Active: &inactive})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, "a1", sold[0].ID)

	byListing, err := store.FindAgentByListing(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, byListing)
	assert.Equal(t, "a1", byListing.ID)

	byToken, err := store.FindAgentByToken(ctx, "0x00000000000000000000000000000000000000C1", "2")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, "a3", byToken.ID)

	none, err := store.FindAgentByListing(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, none)

	progress := &models.SagaProgress{SagaID: "s1", Kind: "create_and_list", Step: "mint", Status: models.SagaStatusRunning}
	require.NoError(t, store.SaveSagaProgress(ctx, progress))
	progress.Step = "done"
	progress.Status = models.SagaStatusFlagged
	require.NoError(t, store.SaveSagaProgress(ctx, progress))

	p, err := store.GetSagaProgress(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "done", p.Step)
	assert.Equal(t, models.SagaStatusFlagged, p.Status)

	block, err := store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Zero(t, block)
	require.NoError(t, store.SetLatestProcessedBlock(ctx, 42))
	require.NoError(t, store.SetLatestProcessedBlock(ctx, 43))
	block, err = store.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), block)

	stats, err := store.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalAgents)
	assert.Equal(t, int64(2), stats.ActiveAgents)
	assert.Equal(t, int64(2), stats.UnknownListings)
	assert.Equal(t, int64(1), stats.FlaggedSagas)
	assert.Equal(t, uint64(43), stats.LatestBlock)
}

func TestSQLiteStorage(t *testing.T) {
	exerciseStore(t, newSQLite(t))
}

func TestMemoryStorage(t *testing.T) {
	exerciseStore(t, NewMemoryStorage())
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.Migrate())

	var applied int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(GetSQLiteMigrations()), applied)

	info, err := s.GetDatabaseInfo()
	require.NoError(t, err)
	assert.NotEmpty(t, info["sqlite_version"])
}

func TestNotConnected(t *testing.T) {
	s := NewSQLiteStorage(&StorageConfig{ConnectionString: "unused.db"})
	_, err := s.GetAgent(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, s.Ping())
}

func TestDollarPlaceholders(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dollarPlaceholders("a = ? AND b = ?"))
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(&config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Backend())

	_, err = NewStorage(&config.StorageConfig{Type: "mongo"})
	assert.Error(t, err)

	assert.Error(t, ValidateStorageConfig(&config.StorageConfig{Type: "sqlite"}))
	assert.NoError(t, ValidateStorageConfig(&config.StorageConfig{Type: "memory"}))

	opened, err := Open(&config.StorageConfig{Type: "sqlite", ConnectionString: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer opened.Close()
	assert.NoError(t, opened.Ping())
}

func TestStorageWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mgr := metrics.NewManagerWithRegistry(reg)
	store := NewStorageWithMetrics(NewMemoryStorage(), mgr)

	require.NoError(t, store.CreateAgent(context.Background(), sampleAgent("m1", "0x01", time.Now())))
	_, err := store.GetAgent(context.Background(), "m1")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "inft_database_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
