package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
)

func (c *Chain) execMarketplace(from common.Address, data []byte, value *big.Int) ([]types.Log, error) {
	method, args, err := decode(contracts.MarketplaceABI, data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "list":
		ev, err := c.market.List(from, args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int))
		if err != nil {
			return nil, asRevert(err)
		}
		log, err := contracts.ListedLog(DefaultMarketplace, ev)
		if err != nil {
			return nil, err
		}
		return []types.Log{log}, nil

	case "buy":
		ev, err := c.market.Buy(from, args[0].(*big.Int).Uint64(), value)
		if err != nil {
			return nil, err
		}
		log, err := contracts.PurchasedLog(DefaultMarketplace, ev)
		if err != nil {
			return nil, err
		}
		return []types.Log{log}, nil

	case "cancel":
		if err := c.market.Cancel(from, args[0].(*big.Int).Uint64()); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, &marketplace.RevertError{Reason: method.Name + " is not callable"}
}

func (c *Chain) callMarketplace(data []byte) ([]byte, error) {
	method, args, err := decode(contracts.MarketplaceABI, data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "listings":
		listing, ok := c.market.Listing(args[0].(*big.Int).Uint64())
		if !ok {
			// unset mapping slots read as zero values
			return method.Outputs.Pack(common.Address{}, new(big.Int), common.Address{}, new(big.Int), false)
		}
		return method.Outputs.Pack(listing.NFTContract, listing.TokenID, listing.Seller, listing.Price, listing.Active)
	case "calculateFees":
		fee, seller := c.market.CalculateFees(args[0].(*big.Int))
		return method.Outputs.Pack(fee, seller)
	case "nextListingId":
		return method.Outputs.Pack(new(big.Int).SetUint64(c.market.NextListingID()))
	case "platformFeePercent":
		return method.Outputs.Pack(new(big.Int).SetUint64(c.market.FeeBps()))
	case "feeRecipient":
		return method.Outputs.Pack(c.market.FeeRecipient())
	}
	return nil, &marketplace.RevertError{Reason: method.Name + " is not a view"}
}

func (c *Chain) execFactory(from common.Address, data []byte, value *big.Int) ([]types.Log, error) {
	method, args, err := decode(contracts.FactoryABI, data)
	if err != nil {
		return nil, err
	}
	if method.Name != "createAgent" {
		return nil, &marketplace.RevertError{Reason: method.Name + " is not callable"}
	}
	if value.Cmp(c.creationFee) < 0 {
		return nil, &marketplace.RevertError{Reason: "Insufficient creation fee"}
	}

	name := args[0].(string)
	price := args[6].(*big.Int)
	addr := crypto.CreateAddress(DefaultFactory, uint64(len(c.deployed)))

	c.agents[addr] = &agentContract{
		owner:     from,
		name:      name,
		nextToken: 1,
		tokenURIs: make(map[uint64]string),
	}
	c.deployed = append(c.deployed, addr)

	created, err := contracts.AgentContractCreatedLog(DefaultFactory, addr, from, name, price)
	if err != nil {
		return nil, err
	}
	// the new contract's constructor logs precede the factory event
	return []types.Log{
		contracts.OwnershipTransferredLog(addr, common.Address{}, from),
		created,
	}, nil
}

func (c *Chain) callFactory(data []byte) ([]byte, error) {
	method, args, err := decode(contracts.FactoryABI, data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "creationFee":
		return method.Outputs.Pack(c.creationFee)
	case "getTotalAgents":
		return method.Outputs.Pack(big.NewInt(int64(len(c.deployed))))
	case "getAgentAt":
		i := args[0].(*big.Int)
		if !i.IsUint64() || i.Uint64() >= uint64(len(c.deployed)) {
			return nil, &marketplace.RevertError{Reason: "index out of bounds"}
		}
		return method.Outputs.Pack(c.deployed[i.Uint64()])
	}
	return nil, &marketplace.RevertError{Reason: method.Name + " is not a view"}
}

func (c *Chain) execAgent(from, nft common.Address, data []byte) ([]types.Log, error) {
	method, args, err := decode(contracts.AgentNFTABI, data)
	if err != nil {
		return nil, err
	}
	agent := c.agents[nft]

	switch method.Name {
	case "mint":
		if from != agent.owner {
			return nil, &marketplace.RevertError{Reason: "Ownable: caller is not the owner"}
		}
		tokenID := new(big.Int).SetUint64(agent.nextToken)
		if err := c.registry.Mint(nft, from, tokenID); err != nil {
			return nil, asRevert(err)
		}
		agent.tokenURIs[agent.nextToken] = args[0].(string)
		agent.nextToken++
		return []types.Log{contracts.TransferLog(nft, common.Address{}, from, tokenID)}, nil

	case "approve":
		spender := args[0].(common.Address)
		tokenID := args[1].(*big.Int)
		if err := c.registry.Approve(nft, from, spender, tokenID); err != nil {
			return nil, asRevert(err)
		}
		return []types.Log{contracts.ApprovalLog(nft, from, spender, tokenID)}, nil
	}
	return nil, &marketplace.RevertError{Reason: method.Name + " is not callable"}
}

func (c *Chain) callAgent(nft common.Address, data []byte) ([]byte, error) {
	method, args, err := decode(contracts.AgentNFTABI, data)
	if err != nil {
		return nil, err
	}
	if method.Name != "ownerOf" {
		return nil, &marketplace.RevertError{Reason: method.Name + " is not a view"}
	}
	owner, err := c.registry.OwnerOf(nft, args[0].(*big.Int))
	if err != nil {
		return nil, asRevert(err)
	}
	return method.Outputs.Pack(owner)
}
