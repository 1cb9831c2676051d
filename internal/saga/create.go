package saga

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/pinning"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// maxOnChainCapabilities is how many capabilities createAgent stores.
const maxOnChainCapabilities = 3

// Defaults for fields a create request leaves empty.
const (
	DefaultName         = "Unnamed Agent"
	DefaultCategory     = "General"
	DefaultPrice        = "0.01"
	DefaultComputeModel = "gpt-4"
)

// CreateRequest describes an agent to create and list. Price is in ether.
type CreateRequest struct {
	Name         string        `json:"name" validate:"max=100"`
	Description  string        `json:"description" validate:"max=2000"`
	Image        string        `json:"image"`
	Category     string        `json:"category" validate:"max=64"`
	Capabilities []string      `json:"capabilities" validate:"max=20,dive,max=64"`
	Skills       []string      `json:"skills"`
	ComputeModel string        `json:"computeModel" validate:"max=64"`
	Price        string        `json:"price" validate:"omitempty,numeric"`
	Social       models.Social `json:"social"`
}

// CreateResult reports what the saga produced. ListingID is
// models.ListingIDUnknown when Flagged is set.
type CreateResult struct {
	SagaID           string               `json:"sagaId"`
	Agent            *models.UnifiedAgent `json:"agent"`
	ContractAddress  string               `json:"contractAddress"`
	ContractMethod   reconcile.Method     `json:"contractMethod"`
	TokenID          string               `json:"tokenId"`
	ListingID        uint64               `json:"listingId"`
	ListingMethod    reconcile.Method     `json:"listingMethod"`
	StorageURI       string               `json:"storageUri"`
	MetadataFallback bool                 `json:"metadataFallback"`
	CreateTxHash     string               `json:"createTxHash"`
	ListTxHash       string               `json:"listTxHash"`
	Flagged          bool                 `json:"flagged"`
}

func (req *CreateRequest) applyDefaults() {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = DefaultName
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = DefaultCategory
	}
	req.Price = strings.TrimSpace(req.Price)
	if req.Price == "" {
		req.Price = DefaultPrice
	}
	if req.ComputeModel == "" {
		req.ComputeModel = DefaultComputeModel
	}
}

// CreateAndList uploads metadata, deploys an agent contract through the
// factory, mints token, approves the marketplace, lists the token and stores
// the resulting agent. Each transaction is confirmed before the next is sent.
//
// A listing id that cannot be recovered does not fail the saga: the agent is
// stored with an unknown listing and operators are notified.
func (o *Orchestrator) CreateAndList(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	req.applyDefaults()
	if err := o.validate.Struct(&req); err != nil {
		return nil, utils.ValidationError("Invalid agent", err)
	}
	priceWei, err := models.PriceToWei(req.Price)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid price", err.Error())
	}

	creator := o.Client.Account()
	r := o.Recorder.start(SagaCreate)
	result := &CreateResult{SagaID: r.progress.SagaID}
	log := o.logger.WithFields(logrus.Fields{"saga_id": r.progress.SagaID, "creator": utils.AddressHex(creator)})

	// upload_metadata
	r.enter(ctx, StepUploadMetadata)
	upload := pinning.UploadWithFallback(ctx, o.Uploader, &models.AgentMetadata{
		Name:         req.Name,
		Description:  req.Description,
		Image:        req.Image,
		Creator:      utils.AddressHex(creator),
		Category:     req.Category,
		Capabilities: req.Capabilities,
		Skills:       req.Skills,
		ComputeModel: req.ComputeModel,
		Price:        req.Price,
		Social:       req.Social,
		Attributes: []models.Attribute{
			{TraitType: "Category", Value: req.Category},
			{TraitType: "Compute Model", Value: req.ComputeModel},
		},
		CreatedAt: time.Now().UTC(),
	}, o.cfg.UploadTimeout)
	result.StorageURI = upload.URI
	result.MetadataFallback = upload.Fallback
	o.confirm(ctx, r, StepUploadMetadata, upload.URI)

	// create_agent
	r.enter(ctx, StepCreateAgent)
	fee := o.creationFee(ctx)
	createReceipt, err := o.submit(ctx, r, func() (common.Hash, error) {
		return o.Factory.CreateAgent(ctx, contracts.CreateAgentParams{
			Name:         req.Name,
			Description:  req.Description,
			Category:     req.Category,
			ComputeModel: req.ComputeModel,
			StorageHash:  upload.URI,
			Capabilities: truncate(req.Capabilities, maxOnChainCapabilities),
			Price:        priceWei,
		}, fee, o.cfg.CreateAgentGas)
	})
	if err != nil {
		return result, o.fail(ctx, r, StepCreateAgent, err)
	}
	result.CreateTxHash = r.progress.TxHash
	o.confirm(ctx, r, StepCreateAgent, "")

	// resolve_contract
	r.enter(ctx, StepResolveContract)
	contract, err := o.Engine.ContractFromReceipt(ctx, createReceipt)
	if err != nil {
		return result, o.fail(ctx, r, StepResolveContract, err)
	}
	if !contract.Known() {
		return result, o.fail(ctx, r, StepResolveContract,
			errors.New(reconcile.Describe("agent contract", contract.Method, "", contract.TxHash)))
	}
	result.ContractAddress = contract.Hex()
	result.ContractMethod = contract.Method
	o.confirm(ctx, r, StepResolveContract, reconcile.Describe("agent contract", contract.Method, contract.Hex(), contract.TxHash))
	log = log.WithField("agent_contract", result.ContractAddress)

	// mint
	r.enter(ctx, StepMint)
	mintReceipt, err := o.submit(ctx, r, func() (common.Hash, error) {
		return o.NFT.Mint(ctx, contract.Address, upload.URI, o.cfg.TxGas)
	})
	if err != nil {
		return result, o.fail(ctx, r, StepMint, err)
	}
	tokenID, ok := reconcile.TokenIDFromLogs(o.Client.GetLogs(mintReceipt))
	if !ok {
		tokenID = big.NewInt(1)
		log.Warn("Mint receipt has no Transfer log, assuming token 1")
	}
	result.TokenID = tokenID.String()
	o.confirm(ctx, r, StepMint, "token "+result.TokenID)

	// approve
	r.enter(ctx, StepApprove)
	if _, err := o.submit(ctx, r, func() (common.Hash, error) {
		return o.NFT.Approve(ctx, contract.Address, o.Marketplace.Address(), tokenID, o.cfg.TxGas)
	}); err != nil {
		return result, o.fail(ctx, r, StepApprove, err)
	}
	o.confirm(ctx, r, StepApprove, "")

	// list
	r.enter(ctx, StepList)
	listReceipt, err := o.submit(ctx, r, func() (common.Hash, error) {
		return o.Marketplace.List(ctx, contract.Address, tokenID, priceWei, o.cfg.TxGas)
	})
	if err != nil {
		return result, o.fail(ctx, r, StepList, err)
	}
	result.ListTxHash = r.progress.TxHash
	o.confirm(ctx, r, StepList, "")

	// resolve_listing
	r.enter(ctx, StepResolveListing)
	listing, err := o.Engine.ListingFromReceipt(ctx, listReceipt)
	if err != nil {
		return result, o.fail(ctx, r, StepResolveListing, err)
	}
	result.ListingID = listing.ListingID
	result.ListingMethod = listing.Method
	if listing.Known() {
		o.confirm(ctx, r, StepResolveListing, reconcile.Describe("listing", listing.Method, result.listingIDString(), listing.TxHash))
	} else {
		result.Flagged = true
		o.flag(ctx, r, StepResolveListing, reconcile.Describe("listing", listing.Method, "", listing.TxHash))
	}

	// persist
	r.enter(ctx, StepPersist)
	active := true
	agent, err := o.Agents.Create(ctx, &models.AgentInput{
		TokenID:              result.TokenID,
		AgentContractAddress: result.ContractAddress,
		Name:                 req.Name,
		Description:          req.Description,
		Image:                req.Image,
		Category:             req.Category,
		Price:                req.Price,
		PriceWei:             priceWei.String(),
		Creator:              utils.AddressHex(creator),
		CurrentOwner:         utils.AddressHex(creator),
		TxHash:               result.ListTxHash,
		StorageURI:           upload.URI,
		ListingID:            result.ListingID,
		Active:               &active,
		Social:               req.Social,
		Capabilities:         req.Capabilities,
		ComputeModel:         req.ComputeModel,
	})
	if err != nil {
		return result, o.fail(ctx, r, StepPersist, err)
	}
	result.Agent = agent
	r.progress.AgentID = agent.ID
	o.confirm(ctx, r, StepPersist, "")

	r.enter(ctx, StepDone)
	o.confirm(ctx, r, StepDone, "")

	log.WithFields(logrus.Fields{
		"agent_id":   agent.ID,
		"token_id":   result.TokenID,
		"listing_id": result.ListingID,
		"flagged":    result.Flagged,
		"fallback":   result.MetadataFallback,
	}).Info("Agent created and listed")
	return result, nil
}

// creationFee reads the factory fee, falling back to the configured one.
func (o *Orchestrator) creationFee(ctx context.Context) *big.Int {
	fee, err := o.Factory.CreationFee(ctx)
	if err != nil {
		o.logger.WithError(err).WithField("fallback_fee", o.cfg.CreationFee.String()).Warn("Failed to read creation fee")
		return new(big.Int).Set(o.cfg.CreationFee)
	}
	return fee
}

func (r *CreateResult) listingIDString() string {
	return new(big.Int).SetUint64(r.ListingID).String()
}

func truncate(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
