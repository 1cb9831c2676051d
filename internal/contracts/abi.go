// Package contracts holds the ABI surface of the marketplace, agent factory and
// agent NFT contracts, plus typed bindings over a connection.Client.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const marketplaceABIJSON = `[
	{"type":"function","name":"list","stateMutability":"nonpayable",
	 "inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],
	 "outputs":[{"name":"listingId","type":"uint256"}]},
	{"type":"function","name":"buy","stateMutability":"payable",
	 "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable",
	 "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"listings","stateMutability":"view",
	 "inputs":[{"name":"","type":"uint256"}],
	 "outputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}]},
	{"type":"function","name":"calculateFees","stateMutability":"view",
	 "inputs":[{"name":"price","type":"uint256"}],
	 "outputs":[{"name":"platformFee","type":"uint256"},{"name":"sellerAmount","type":"uint256"}]},
	{"type":"function","name":"nextListingId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"platformFeePercent","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"feeRecipient","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"Listed","anonymous":false,
	 "inputs":[{"name":"listingId","type":"uint256","indexed":true},{"name":"nft","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":false},{"name":"price","type":"uint256","indexed":false}]},
	{"type":"event","name":"Purchased","anonymous":false,
	 "inputs":[{"name":"listingId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":false},{"name":"platformFee","type":"uint256","indexed":false}]}
]`

const factoryABIJSON = `[
	{"type":"function","name":"createAgent","stateMutability":"payable",
	 "inputs":[{"name":"agentName_","type":"string"},{"name":"agentDescription_","type":"string"},{"name":"agentCategory_","type":"string"},{"name":"computeModel_","type":"string"},{"name":"storageHash_","type":"string"},{"name":"capabilities_","type":"string[]"},{"name":"price_","type":"uint256"}],
	 "outputs":[{"name":"agentContract","type":"address"}]},
	{"type":"function","name":"creationFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTotalAgents","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getAgentAt","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"AgentContractCreated","anonymous":false,
	 "inputs":[{"name":"agentContract","type":"address","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"agentName","type":"string","indexed":false},{"name":"price","type":"uint256","indexed":false}]}
]`

const agentNFTABIJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenURI_","type":"string"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"ownerOf","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"Transfer","anonymous":false,
	 "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Approval","anonymous":false,
	 "inputs":[{"name":"owner","type":"address","indexed":true},{"name":"approved","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,
	 "inputs":[{"name":"previousOwner","type":"address","indexed":true},{"name":"newOwner","type":"address","indexed":true}]},
	{"type":"event","name":"AgentMinted","anonymous":false,
	 "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"tokenURI","type":"string","indexed":false}]}
]`

// Parsed ABIs. Package-level so event topics derived from them are ready at init.
var (
	MarketplaceABI = mustParse(marketplaceABIJSON)
	FactoryABI     = mustParse(factoryABIJSON)
	AgentNFTABI    = mustParse(agentNFTABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
