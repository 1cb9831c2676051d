package saga

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/notification"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Pre-check failures. They are reported before any transaction is sent.
var (
	ErrNotListed    = errors.New("agent has no known listing")
	ErrSelfPurchase = errors.New("buyer is the creator")
)

// PurchaseRequest identifies the agent to buy with the client's account.
type PurchaseRequest struct {
	AgentID string `json:"agentId" validate:"required"`
}

// PurchaseResult reports a completed purchase.
type PurchaseResult struct {
	SagaID    string               `json:"sagaId"`
	Agent     *models.UnifiedAgent `json:"agent"`
	ListingID uint64               `json:"listingId"`
	PriceWei  string               `json:"priceWei"`
	TxHash    string               `json:"txHash"`
	// Validated is false when the listing could not be read before buying.
	Validated bool `json:"validated"`
}

// Purchase buys the agent's listing at its stored price and marks the agent
// sold once the buy is confirmed.
//
// The listing pre-read is advisory. A definitive inactive listing or a price
// different from the stored one aborts; an unreadable or absent listing does
// not, because the contract itself rejects a bad purchase.
func (o *Orchestrator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if err := o.validate.Struct(&req); err != nil {
		return nil, utils.ValidationError("Invalid purchase", err)
	}

	agent, err := o.Agents.Get(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	buyer := o.Client.Account()
	r := o.Recorder.start(SagaPurchase)
	r.progress.AgentID = agent.ID
	result := &PurchaseResult{SagaID: r.progress.SagaID, ListingID: agent.ListingID}
	log := o.logger.WithFields(logrus.Fields{
		"saga_id":    r.progress.SagaID,
		"agent_id":   agent.ID,
		"listing_id": agent.ListingID,
		"buyer":      utils.AddressHex(buyer),
	})

	// validate_listing
	r.enter(ctx, StepValidateListing)
	if !agent.Listed() {
		return result, o.reject(ctx, r, KindNotListed, ErrNotListed)
	}
	if utils.SameAddress(agent.Creator, buyer.Hex()) {
		return result, o.reject(ctx, r, KindSelfPurchase, ErrSelfPurchase)
	}
	price, err := agentPrice(agent)
	if err != nil {
		return result, o.fail(ctx, r, StepValidateListing, err)
	}
	result.PriceWei = price.String()

	listing, found, err := o.Marketplace.GetListing(ctx, agent.ListingID)
	switch {
	case err != nil:
		log.WithError(err).Warn("Listing read failed, proceeding with purchase")
	case !found:
		log.Warn("Listing not visible yet, proceeding with purchase")
	case !listing.Active:
		return result, o.fail(ctx, r, StepValidateListing, fmt.Errorf("listing %d: NOT_ACTIVE", agent.ListingID))
	case listing.Price.Cmp(price) != 0:
		return result, o.fail(ctx, r, StepValidateListing,
			fmt.Errorf("listing %d price %s differs from %s: BAD_PRICE", agent.ListingID, listing.Price, price))
	default:
		result.Validated = true
	}
	o.confirm(ctx, r, StepValidateListing, "")

	// buy
	r.enter(ctx, StepBuy)
	if _, err := o.submit(ctx, r, func() (common.Hash, error) {
		return o.Marketplace.Buy(ctx, agent.ListingID, price, o.cfg.BuyGas)
	}); err != nil {
		return result, o.fail(ctx, r, StepBuy, err)
	}
	result.TxHash = r.progress.TxHash
	o.confirm(ctx, r, StepBuy, "")

	// mark_sold
	r.enter(ctx, StepMarkSold)
	sold, err := o.Agents.MarkSold(ctx, agent.ID, utils.AddressHex(buyer))
	if err != nil {
		return result, o.fail(ctx, r, StepMarkSold, err)
	}
	result.Agent = sold
	o.confirm(ctx, r, StepMarkSold, "")

	r.enter(ctx, StepDone)
	o.confirm(ctx, r, StepDone, "")

	o.notify(ctx, notification.New(models.NotificationAgentSold, "Agent sold",
		fmt.Sprintf("%s sold for %s", sold.Name, models.WeiToPrice(price)), r.data()))
	log.WithField("tx_hash", result.TxHash).Info("Agent purchased")
	return result, nil
}

// reject fails the validation step with a pre-check classification.
func (o *Orchestrator) reject(ctx context.Context, r *run, kind Kind, err error) error {
	return o.failAs(ctx, r, StepValidateListing, err, classification(kind))
}

// agentPrice is the exact wei amount to send, preferring the stored wei value.
func agentPrice(agent *models.UnifiedAgent) (*big.Int, error) {
	if agent.PriceWei != "" {
		if wei, err := models.ParseWei(agent.PriceWei); err == nil {
			return wei, nil
		}
	}
	return models.PriceToWei(agent.Price)
}
