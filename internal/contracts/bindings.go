package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// ErrNoContract is returned when a view call hits an address without code.
var ErrNoContract = errors.New("no contract code at address")

// Marketplace binds the marketplace contract.
type Marketplace struct {
	client  connection.Client
	address common.Address
}

// NewMarketplace creates a marketplace binding at address.
func NewMarketplace(client connection.Client, address common.Address) *Marketplace {
	return &Marketplace{client: client, address: address}
}

// Address returns the marketplace address.
func (m *Marketplace) Address() common.Address { return m.address }

// GetListing reads listings(id). A result that is empty, all zeros, or has a
// zero NFT address reports found=false rather than a zero listing.
func (m *Marketplace) GetListing(ctx context.Context, id uint64) (*models.Listing, bool, error) {
	raw, err := call(ctx, m.client, m.address, MarketplaceABI, "listings", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, false, err
	}
	if connection.IsAbsent(raw) {
		return nil, false, nil
	}

	out, err := MarketplaceABI.Unpack("listings", raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode listing %d: %w", id, err)
	}

	listing := &models.Listing{
		ID:          id,
		NFTContract: out[0].(common.Address),
		TokenID:     out[1].(*big.Int),
		Seller:      out[2].(common.Address),
		Price:       out[3].(*big.Int),
		Active:      out[4].(bool),
	}
	if listing.NFTContract == (common.Address{}) {
		return nil, false, nil
	}
	return listing, true, nil
}

// CalculateFees calls the contract's fee view.
func (m *Marketplace) CalculateFees(ctx context.Context, price *big.Int) (platformFee, sellerAmount *big.Int, err error) {
	raw, err := call(ctx, m.client, m.address, MarketplaceABI, "calculateFees", price)
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, ErrNoContract
	}
	out, err := MarketplaceABI.Unpack("calculateFees", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode fees: %w", err)
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// NextListingID reads the id the contract will assign next.
func (m *Marketplace) NextListingID(ctx context.Context) (uint64, error) {
	v, err := viewUint(ctx, m.client, m.address, MarketplaceABI, "nextListingId")
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("next listing id %s out of range", v)
	}
	return v.Uint64(), nil
}

// List submits list(nft, tokenId, price).
func (m *Marketplace) List(ctx context.Context, nft common.Address, tokenID, price *big.Int, gasLimit uint64) (common.Hash, error) {
	return send(ctx, m.client, m.address, MarketplaceABI, nil, gasLimit, "list", nft, tokenID, price)
}

// Buy submits buy(listingId) paying value.
func (m *Marketplace) Buy(ctx context.Context, listingID uint64, value *big.Int, gasLimit uint64) (common.Hash, error) {
	return send(ctx, m.client, m.address, MarketplaceABI, value, gasLimit, "buy", new(big.Int).SetUint64(listingID))
}

// Cancel submits cancel(listingId).
func (m *Marketplace) Cancel(ctx context.Context, listingID uint64, gasLimit uint64) (common.Hash, error) {
	return send(ctx, m.client, m.address, MarketplaceABI, nil, gasLimit, "cancel", new(big.Int).SetUint64(listingID))
}

// CreateAgentParams are the createAgent arguments.
type CreateAgentParams struct {
	Name         string
	Description  string
	Category     string
	ComputeModel string
	StorageHash  string
	Capabilities []string
	Price        *big.Int
}

// Factory binds the agent factory contract.
type Factory struct {
	client  connection.Client
	address common.Address
}

// NewFactory creates a factory binding at address.
func NewFactory(client connection.Client, address common.Address) *Factory {
	return &Factory{client: client, address: address}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address { return f.address }

// CreateAgent deploys a per-agent NFT contract, paying the creation fee as value.
func (f *Factory) CreateAgent(ctx context.Context, p CreateAgentParams, fee *big.Int, gasLimit uint64) (common.Hash, error) {
	capabilities := p.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	return send(ctx, f.client, f.address, FactoryABI, fee, gasLimit, "createAgent",
		p.Name, p.Description, p.Category, p.ComputeModel, p.StorageHash, capabilities, p.Price)
}

// CreationFee reads the factory's createAgent fee.
func (f *Factory) CreationFee(ctx context.Context) (*big.Int, error) {
	return viewUint(ctx, f.client, f.address, FactoryABI, "creationFee")
}

// TotalAgents reads how many agent contracts the factory has deployed.
func (f *Factory) TotalAgents(ctx context.Context) (uint64, error) {
	v, err := viewUint(ctx, f.client, f.address, FactoryABI, "getTotalAgents")
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("agent count %s out of range", v)
	}
	return v.Uint64(), nil
}

// AgentAt reads the agent contract at index.
func (f *Factory) AgentAt(ctx context.Context, index uint64) (common.Address, error) {
	raw, err := call(ctx, f.client, f.address, FactoryABI, "getAgentAt", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) == 0 {
		return common.Address{}, ErrNoContract
	}
	out, err := FactoryABI.Unpack("getAgentAt", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode agent address: %w", err)
	}
	return out[0].(common.Address), nil
}

// AgentNFT binds per-agent NFT contracts. The contract address is passed per call.
type AgentNFT struct {
	client connection.Client
}

// NewAgentNFT creates an agent NFT binding.
func NewAgentNFT(client connection.Client) *AgentNFT {
	return &AgentNFT{client: client}
}

// Mint submits mint(tokenURI) on contract.
func (a *AgentNFT) Mint(ctx context.Context, contract common.Address, tokenURI string, gasLimit uint64) (common.Hash, error) {
	return send(ctx, a.client, contract, AgentNFTABI, nil, gasLimit, "mint", tokenURI)
}

// Approve submits approve(spender, tokenId) on contract.
func (a *AgentNFT) Approve(ctx context.Context, contract, spender common.Address, tokenID *big.Int, gasLimit uint64) (common.Hash, error) {
	return send(ctx, a.client, contract, AgentNFTABI, nil, gasLimit, "approve", spender, tokenID)
}

// OwnerOf reads the owner of tokenId on contract.
func (a *AgentNFT) OwnerOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	raw, err := call(ctx, a.client, contract, AgentNFTABI, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) == 0 {
		return common.Address{}, ErrNoContract
	}
	out, err := AgentNFTABI.Unpack("ownerOf", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode owner: %w", err)
	}
	return out[0].(common.Address), nil
}

func call(ctx context.Context, client connection.Client, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return client.Call(ctx, to, data)
}

func viewUint(ctx context.Context, client connection.Client, to common.Address, contract abi.ABI, method string) (*big.Int, error) {
	raw, err := call(ctx, client, to, contract, method)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNoContract
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return out[0].(*big.Int), nil
}

func send(ctx context.Context, client connection.Client, to common.Address, contract abi.ABI, value *big.Int, gasLimit uint64, method string, args ...interface{}) (common.Hash, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return client.SendTransaction(ctx, &connection.TxRequest{
		To:       to,
		Data:     data,
		Value:    value,
		GasLimit: gasLimit,
	})
}
