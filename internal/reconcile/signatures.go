package reconcile

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
)

// Signature is a known event topic that carries the identifier in topics[1].
type Signature struct {
	Topic   common.Hash
	Label   string
	Version int
}

// SignatureTable is a versioned set of known signatures, newest first.
type SignatureTable []Signature

// Lookup finds the entry for topic.
func (t SignatureTable) Lookup(topic common.Hash) (Signature, bool) {
	for _, s := range t {
		if s.Topic == topic {
			return s, true
		}
	}
	return Signature{}, false
}

// ListingSignatures are the Listed events emitted by marketplace deployments.
// Older deployments used different parameter layouts; the listing id is the
// first indexed parameter in all of them.
var ListingSignatures = SignatureTable{
	{Topic: contracts.ListedTopic, Label: "Listed(uint256,address,uint256,address,uint256)", Version: 3},
	{Topic: common.HexToHash("0x9791797c382de5e73cc7c32c32ffd8304e9b9cc1f6afd967990c1edd0729dba9"), Label: "Listed (v2 deployment)", Version: 2},
	{Topic: common.HexToHash("0x4b5b465e22eea0c3d40c30e936643245b80d19b2dcf75788c0699fe8d8ec660b"), Label: "Listed (v1 deployment)", Version: 1},
}

// AgentCreatedSignatures are the factory events announcing a new agent contract.
var AgentCreatedSignatures = SignatureTable{
	{Topic: contracts.AgentContractCreatedTopic, Label: "AgentContractCreated(address,address,string,uint256)", Version: 2},
	{Topic: common.HexToHash("0x85f0dfa9fd3e33e38f73b68fc46905218786e8b028cf1b07fa0ed436b53b0227"), Label: "AgentContractCreated (v1 deployment)", Version: 1},
}
