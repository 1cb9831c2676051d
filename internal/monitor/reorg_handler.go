package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// ReorgHandler rewinds the sync cursor when the node reports a head behind
// it, as happens after a deep reorganization or a reset dev chain.
type ReorgHandler struct {
	cursor CursorStore
	logger *logrus.Entry
}

// ReorgEvent describes a cursor rewind
type ReorgEvent struct {
	DetectedAt time.Time `json:"detected_at"`
	Processed  uint64    `json:"processed"`
	Head       uint64    `json:"head"`
	RewoundTo  uint64    `json:"rewound_to"`
}

// NewReorgHandler creates a handler over the cursor store
func NewReorgHandler(cursor CursorStore) *ReorgHandler {
	return &ReorgHandler{
		cursor: cursor,
		logger: utils.ComponentLogger("monitor"),
	}
}

// DetectReorg reports a rewind when processed is ahead of head
func (rh *ReorgHandler) DetectReorg(processed, head, confirmed uint64) *ReorgEvent {
	if processed <= head {
		return nil
	}
	return &ReorgEvent{
		DetectedAt: time.Now(),
		Processed:  processed,
		Head:       head,
		RewoundTo:  confirmed,
	}
}

// HandleReorg moves the cursor back. Listings already attached stay attached;
// replayed events are idempotent on the agent store.
func (rh *ReorgHandler) HandleReorg(ctx context.Context, ev *ReorgEvent) error {
	rh.logger.WithFields(logrus.Fields{
		"processed":  ev.Processed,
		"head":       ev.Head,
		"rewound_to": ev.RewoundTo,
	}).Warn("Chain head is behind the sync cursor, rewinding")

	if err := rh.cursor.SetLatestProcessedBlock(ctx, ev.RewoundTo); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to rewind sync cursor", err.Error())
	}
	return nil
}
