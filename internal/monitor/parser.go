package monitor

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// EventKind names a marketplace event the watcher acts on
type EventKind string

const (
	EventListed    EventKind = "listed"
	EventPurchased EventKind = "purchased"
)

// MarketEvent is a decoded marketplace log
type MarketEvent struct {
	Kind        EventKind                   `json:"kind"`
	BlockNumber uint64                      `json:"block_number"`
	TxHash      string                      `json:"tx_hash"`
	LogIndex    uint                        `json:"log_index"`
	Listed      *marketplace.ListedEvent    `json:"listed,omitempty"`
	Purchased   *marketplace.PurchasedEvent `json:"purchased,omitempty"`
}

// ListingID returns the listing the event refers to
func (e *MarketEvent) ListingID() uint64 {
	if e.Listed != nil {
		return e.Listed.ListingID
	}
	if e.Purchased != nil {
		return e.Purchased.ListingID
	}
	return 0
}

// ParseLog decodes a marketplace log. Logs with other topics return (nil, nil).
func ParseLog(log types.Log) (*MarketEvent, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	event := &MarketEvent{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
	}

	switch log.Topics[0] {
	case contracts.ListedTopic:
		listed, err := contracts.DecodeListed(log)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeProcessing, "Failed to decode Listed log", err)
		}
		event.Kind = EventListed
		event.Listed = listed
	case contracts.PurchasedTopic:
		purchased, err := contracts.DecodePurchased(log)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeProcessing, "Failed to decode Purchased log", err)
		}
		event.Kind = EventPurchased
		event.Purchased = purchased
	default:
		return nil, nil
	}
	return event, nil
}
