package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// LogPoller reads confirmed marketplace logs from a node
type LogPoller struct {
	source      connection.LogSource
	marketplace common.Address
	config      *Config
	logger      *logrus.Entry

	mu           sync.RWMutex
	lastPollTime time.Time
	pollCount    uint64
	errorCount   uint64
}

// BlockRange is an inclusive range of block numbers
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// NewLogPoller creates a poller for the marketplace at address
func NewLogPoller(source connection.LogSource, marketplace common.Address, config *Config) *LogPoller {
	return &LogPoller{
		source:      source,
		marketplace: marketplace,
		config:      config,
		logger:      utils.ComponentLogger("monitor"),
	}
}

// ConfirmedHead returns the chain head and the newest block with enough confirmations
func (lp *LogPoller) ConfirmedHead(ctx context.Context) (head, confirmed uint64, err error) {
	lp.mu.Lock()
	lp.pollCount++
	lp.lastPollTime = time.Now()
	lp.mu.Unlock()

	head, err = lp.source.BlockNumber(ctx)
	if err != nil {
		lp.recordError()
		return 0, 0, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get block number", err.Error())
	}
	if head < lp.config.ConfirmationBlocks {
		return head, 0, nil
	}
	return head, head - lp.config.ConfirmationBlocks, nil
}

// NextRange returns the batch after processed, or false when caught up
func (lp *LogPoller) NextRange(processed, confirmed uint64) (BlockRange, bool) {
	if confirmed <= processed {
		return BlockRange{}, false
	}
	r := BlockRange{From: processed + 1, To: confirmed}
	if lp.config.BatchSize > 0 && r.To-r.From+1 > lp.config.BatchSize {
		r.To = r.From + lp.config.BatchSize - 1
	}
	return r, true
}

// FetchLogs returns the Listed and Purchased logs of the marketplace in r
func (lp *LogPoller) FetchLogs(ctx context.Context, r BlockRange) ([]types.Log, error) {
	logs, err := lp.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{lp.marketplace},
		Topics:    [][]common.Hash{{contracts.ListedTopic, contracts.PurchasedTopic}},
	})
	if err != nil {
		lp.recordError()
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to filter logs", err.Error())
	}
	return logs, nil
}

// GetStats returns poller statistics
func (lp *LogPoller) GetStats() map[string]interface{} {
	lp.mu.RLock()
	defer lp.mu.RUnlock()

	return map[string]interface{}{
		"poll_count":     lp.pollCount,
		"error_count":    lp.errorCount,
		"last_poll_time": lp.lastPollTime,
	}
}

func (lp *LogPoller) recordError() {
	lp.mu.Lock()
	lp.errorCount++
	lp.mu.Unlock()
}
