package connection

import (
	"context"
	"testing"
	"time"

	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerFailsOverToBackup(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	node := newFakeNode(t)

	cfg := &config.ChainConfig{
		NodeURL:        "http://127.0.0.1:1",
		BackupNodes:    []string{node.server.URL},
		ChainID:        16601,
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  1,
	}
	manager := NewConnectionManager(cfg, nil)
	defer manager.Close()

	ctx := context.Background()
	require.NoError(t, manager.HealthCheckWithContext(ctx))
	assert.True(t, manager.IsConnected())

	stats := manager.Stats()
	assert.Equal(t, node.server.URL, stats.CurrentURL)
	assert.Equal(t, uint64(16601), stats.ChainID)
	assert.Equal(t, uint64(100), stats.LatestBlock)

	head, err := manager.GetLatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), head)
}

func TestManagerChainIDMismatch(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	node := newFakeNode(t)

	manager := NewConnectionManager(&config.ChainConfig{
		NodeURL:       node.server.URL,
		ChainID:       1,
		RetryAttempts: 1,
	}, nil)
	defer manager.Close()

	err := manager.HealthCheckWithContext(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConnection))
	assert.False(t, manager.IsConnected())
}

func TestManagerGivesUpAfterRetries(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")

	manager := NewConnectionManager(&config.ChainConfig{
		NodeURL:        "http://127.0.0.1:1",
		RequestTimeout: time.Second,
		RetryAttempts:  2,
		RetryDelay:     10 * time.Millisecond,
	}, nil)

	_, err := manager.GetClientWithContext(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConnection))
	assert.Equal(t, uint64(2), manager.Stats().FailedRequests)
}
