// Package monitor follows marketplace events on chain and repairs the agent
// store: Listed events attach listing ids that reconciliation could not
// recover, and Purchased events mark agents sold.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// AgentIndex is what the watcher needs from the agent store
type AgentIndex interface {
	FindByToken(ctx context.Context, contract, tokenID string) (*models.UnifiedAgent, error)
	AttachListing(ctx context.Context, id string, listingID uint64) (*models.UnifiedAgent, error)
	MarkSoldByListing(ctx context.Context, listingID uint64, buyer string) (*models.UnifiedAgent, error)
}

// CursorStore persists the last processed block
type CursorStore interface {
	GetLatestProcessedBlock(ctx context.Context) (uint64, error)
	SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error
}

// Config holds watcher configuration
type Config struct {
	PollInterval       time.Duration `json:"poll_interval"`
	BatchSize          uint64        `json:"batch_size"`
	ConfirmationBlocks uint64        `json:"confirmation_blocks"`
	// StartBlock is used when the cursor has never been written.
	StartBlock uint64 `json:"start_block"`
}

// PollResult summarises one poll
type PollResult struct {
	Ranges      []BlockRange  `json:"ranges"`
	EventsFound int           `json:"events_found"`
	Attached    int           `json:"attached"`
	MarkedSold  int           `json:"marked_sold"`
	Processed   uint64        `json:"processed"`
	Duration    time.Duration `json:"duration"`
}

// WatcherStats provides monitoring statistics
type WatcherStats struct {
	StartTime            time.Time  `json:"start_time"`
	IsRunning            bool       `json:"is_running"`
	LatestProcessedBlock uint64     `json:"latest_processed_block"`
	TotalEventsFound     uint64     `json:"total_events_found"`
	ListingsAttached     uint64     `json:"listings_attached"`
	AgentsMarkedSold     uint64     `json:"agents_marked_sold"`
	ErrorCount           uint64     `json:"error_count"`
	LastError            *string    `json:"last_error,omitempty"`
	LastErrorTime        *time.Time `json:"last_error_time,omitempty"`
}

// ListingWatcher polls the marketplace and applies its events to the agent store
type ListingWatcher struct {
	agents AgentIndex
	cursor CursorStore
	config *Config
	logger *logrus.Entry

	poller *LogPoller
	reorg  *ReorgHandler

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stats   *WatcherStats
	metrics *metrics.PrometheusMetrics
}

// NewListingWatcher creates a watcher for the marketplace at address
func NewListingWatcher(
	source connection.LogSource,
	marketplace common.Address,
	agents AgentIndex,
	cursor CursorStore,
	config *Config,
	metricsManager *metrics.Manager,
) *ListingWatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}

	return &ListingWatcher{
		agents:   agents,
		cursor:   cursor,
		config:   config,
		logger:   utils.ComponentLogger("monitor"),
		poller:   NewLogPoller(source, marketplace, config),
		reorg:    NewReorgHandler(cursor),
		stopChan: make(chan struct{}),
		stats:    &WatcherStats{StartTime: time.Now()},
		metrics:  metricsManager.GetPrometheusMetrics(),
	}
}

// Start runs the polling loop in the background
func (w *ListingWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Watcher already running", "")
	}
	w.running = true
	w.stats.StartTime = time.Now()
	w.stats.IsRunning = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
	}()

	w.logger.WithField("poll_interval", w.config.PollInterval).Info("Listing watcher started")
	return nil
}

// Stop stops the polling loop and waits for it to exit
func (w *ListingWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.stats.IsRunning = false
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Listing watcher stopped")
	return nil
}

// IsRunning returns whether the loop is running
func (w *ListingWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Run polls on a ticker until ctx is cancelled or Stop is called
func (w *ListingWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("Error polling marketplace events")
			w.recordError(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// Poll processes every confirmed block after the cursor, one batch at a time.
// The cursor advances after each batch is applied.
func (w *ListingWatcher) Poll(ctx context.Context) (*PollResult, error) {
	start := time.Now()
	result := &PollResult{}

	head, confirmed, err := w.poller.ConfirmedHead(ctx)
	if err != nil {
		return result, err
	}

	stored, err := w.cursor.GetLatestProcessedBlock(ctx)
	if err != nil {
		return result, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest processed block", err.Error())
	}
	if ev := w.reorg.DetectReorg(stored, head, confirmed); ev != nil {
		if err := w.reorg.HandleReorg(ctx, ev); err != nil {
			return result, err
		}
		stored = ev.RewoundTo
	}
	processed := stored
	if processed == 0 && w.config.StartBlock > 0 {
		processed = w.config.StartBlock - 1
	}
	result.Processed = processed

	for {
		r, ok := w.poller.NextRange(processed, confirmed)
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		logs, err := w.poller.FetchLogs(ctx, r)
		if err != nil {
			return result, err
		}
		result.Ranges = append(result.Ranges, r)

		for _, log := range logs {
			event, err := ParseLog(log)
			if err != nil {
				w.logger.WithError(err).WithField("tx_hash", log.TxHash.Hex()).Warn("Skipping undecodable marketplace log")
				w.metrics.RecordMarketplaceEvent("unknown", "error")
				continue
			}
			if event == nil {
				continue
			}
			result.EventsFound++
			if err := w.apply(ctx, event, result); err != nil {
				return result, err
			}
		}

		if err := w.cursor.SetLatestProcessedBlock(ctx, r.To); err != nil {
			return result, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update latest processed block", err.Error())
		}
		processed = r.To
		result.Processed = processed
		w.metrics.UpdateLatestProcessedBlock(processed)
	}

	result.Duration = time.Since(start)
	w.updateStats(result)
	if result.EventsFound > 0 {
		w.logger.WithFields(logrus.Fields{
			"processed":   result.Processed,
			"events":      result.EventsFound,
			"attached":    result.Attached,
			"marked_sold": result.MarkedSold,
		}).Info("Marketplace events applied")
	}
	return result, nil
}

// apply updates the agent store for one event. Store errors abort the batch
// so the cursor does not move past an event that was not applied.
func (w *ListingWatcher) apply(ctx context.Context, event *MarketEvent, result *PollResult) error {
	log := w.logger.WithFields(logrus.Fields{
		"event":      event.Kind,
		"listing_id": event.ListingID(),
		"tx_hash":    event.TxHash,
		"block":      event.BlockNumber,
	})

	switch event.Kind {
	case EventListed:
		contract := utils.AddressHex(event.Listed.NFTContract)
		agent, err := w.agents.FindByToken(ctx, contract, event.Listed.TokenID.String())
		if err != nil {
			w.metrics.RecordMarketplaceEvent(string(event.Kind), "error")
			return err
		}
		if agent == nil || agent.Listed() {
			w.metrics.RecordMarketplaceEvent(string(event.Kind), "ignored")
			return nil
		}
		if _, err := w.agents.AttachListing(ctx, agent.ID, event.Listed.ListingID); err != nil {
			w.metrics.RecordMarketplaceEvent(string(event.Kind), "error")
			return err
		}
		result.Attached++
		log.WithField("agent_id", agent.ID).Info("Attached listing from chain event")

	case EventPurchased:
		agent, err := w.agents.MarkSoldByListing(ctx, event.Purchased.ListingID, utils.AddressHex(event.Purchased.Buyer))
		if err != nil {
			w.metrics.RecordMarketplaceEvent(string(event.Kind), "error")
			return err
		}
		if agent == nil {
			w.metrics.RecordMarketplaceEvent(string(event.Kind), "ignored")
			return nil
		}
		result.MarkedSold++
		log.WithField("agent_id", agent.ID).Debug("Agent sold on chain")
	}

	w.metrics.RecordMarketplaceEvent(string(event.Kind), "applied")
	return nil
}

// GetStats returns a snapshot of watcher statistics
func (w *ListingWatcher) GetStats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.stats
}

// PollerStats exposes the underlying poller counters
func (w *ListingWatcher) PollerStats() map[string]interface{} {
	return w.poller.GetStats()
}

func (w *ListingWatcher) updateStats(result *PollResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LatestProcessedBlock = result.Processed
	w.stats.TotalEventsFound += uint64(result.EventsFound)
	w.stats.ListingsAttached += uint64(result.Attached)
	w.stats.AgentsMarkedSold += uint64(result.MarkedSold)
}

func (w *ListingWatcher) recordError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := err.Error()
	now := time.Now()
	w.stats.ErrorCount++
	w.stats.LastError = &msg
	w.stats.LastErrorTime = &now
}
