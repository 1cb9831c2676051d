package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
)

// Event topics of the current contract deployments.
var (
	ListedTopic               = MarketplaceABI.Events["Listed"].ID
	PurchasedTopic            = MarketplaceABI.Events["Purchased"].ID
	AgentContractCreatedTopic = FactoryABI.Events["AgentContractCreated"].ID
	TransferTopic             = AgentNFTABI.Events["Transfer"].ID
	ApprovalTopic             = AgentNFTABI.Events["Approval"].ID
	OwnershipTransferredTopic = AgentNFTABI.Events["OwnershipTransferred"].ID
)

// DecodeListed decodes a marketplace Listed log.
func DecodeListed(log types.Log) (*marketplace.ListedEvent, error) {
	if len(log.Topics) != 4 || log.Topics[0] != ListedTopic {
		return nil, fmt.Errorf("not a Listed log")
	}
	id := log.Topics[1].Big()
	if !id.IsUint64() {
		return nil, fmt.Errorf("listing id %s out of range", id)
	}

	values, err := MarketplaceABI.Events["Listed"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("decode Listed data: %w", err)
	}

	return &marketplace.ListedEvent{
		ListingID:   id.Uint64(),
		NFTContract: common.BytesToAddress(log.Topics[2].Bytes()),
		TokenID:     log.Topics[3].Big(),
		Seller:      values[0].(common.Address),
		Price:       values[1].(*big.Int),
	}, nil
}

// DecodePurchased decodes a marketplace Purchased log. SellerAmount is not part
// of the event and is left nil.
func DecodePurchased(log types.Log) (*marketplace.PurchasedEvent, error) {
	if len(log.Topics) != 2 || log.Topics[0] != PurchasedTopic {
		return nil, fmt.Errorf("not a Purchased log")
	}
	id := log.Topics[1].Big()
	if !id.IsUint64() {
		return nil, fmt.Errorf("listing id %s out of range", id)
	}

	values, err := MarketplaceABI.Events["Purchased"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("decode Purchased data: %w", err)
	}

	return &marketplace.PurchasedEvent{
		ListingID:   id.Uint64(),
		Buyer:       values[0].(common.Address),
		PlatformFee: values[1].(*big.Int),
	}, nil
}

// ListedLog builds the log the marketplace emits for ev.
func ListedLog(market common.Address, ev *marketplace.ListedEvent) (types.Log, error) {
	data, err := MarketplaceABI.Events["Listed"].Inputs.NonIndexed().Pack(ev.Seller, ev.Price)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: market,
		Topics: []common.Hash{
			ListedTopic,
			uintTopic(new(big.Int).SetUint64(ev.ListingID)),
			addressTopic(ev.NFTContract),
			uintTopic(ev.TokenID),
		},
		Data: data,
	}, nil
}

// PurchasedLog builds the log the marketplace emits for ev.
func PurchasedLog(market common.Address, ev *marketplace.PurchasedEvent) (types.Log, error) {
	data, err := MarketplaceABI.Events["Purchased"].Inputs.NonIndexed().Pack(ev.Buyer, ev.PlatformFee)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: market,
		Topics:  []common.Hash{PurchasedTopic, uintTopic(new(big.Int).SetUint64(ev.ListingID))},
		Data:    data,
	}, nil
}

// AgentContractCreatedLog builds the factory log announcing a new agent contract.
func AgentContractCreatedLog(factory, agentContract, creator common.Address, name string, price *big.Int) (types.Log, error) {
	data, err := FactoryABI.Events["AgentContractCreated"].Inputs.NonIndexed().Pack(name, price)
	if err != nil {
		return types.Log{}, err
	}
	return types.Log{
		Address: factory,
		Topics:  []common.Hash{AgentContractCreatedTopic, addressTopic(agentContract), addressTopic(creator)},
		Data:    data,
	}, nil
}

// TransferLog builds an ERC-721 Transfer log.
func TransferLog(nft, from, to common.Address, tokenID *big.Int) types.Log {
	return types.Log{
		Address: nft,
		Topics:  []common.Hash{TransferTopic, addressTopic(from), addressTopic(to), uintTopic(tokenID)},
	}
}

// ApprovalLog builds an ERC-721 Approval log.
func ApprovalLog(nft, owner, approved common.Address, tokenID *big.Int) types.Log {
	return types.Log{
		Address: nft,
		Topics:  []common.Hash{ApprovalTopic, addressTopic(owner), addressTopic(approved), uintTopic(tokenID)},
	}
}

// OwnershipTransferredLog builds the Ownable constructor log.
func OwnershipTransferredLog(contract, previous, next common.Address) types.Log {
	return types.Log{
		Address: contract,
		Topics:  []common.Hash{OwnershipTransferredTopic, addressTopic(previous), addressTopic(next)},
	}
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func uintTopic(v *big.Int) common.Hash {
	return common.BigToHash(v)
}
