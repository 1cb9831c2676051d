package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ListingIDUnknown marks an agent whose on-chain listing id is not known yet.
const ListingIDUnknown uint64 = 0

// Social holds the optional social links of an agent
type Social struct {
	X       string `json:"x,omitempty" validate:"omitempty,max=256"`
	Website string `json:"website,omitempty" validate:"omitempty,url"`
}

// UnifiedAgent is the off-chain projection of an agent and its current listing
type UnifiedAgent struct {
	ID                   string    `json:"id"`
	TokenID              string    `json:"tokenId"`
	AgentContractAddress string    `json:"agentContractAddress"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Image                string    `json:"image"`
	Category             string    `json:"category"`
	Price                string    `json:"price"`
	PriceWei             string    `json:"priceWei"`
	Creator              string    `json:"creator"`
	CurrentOwner         string    `json:"currentOwner"`
	TxHash               string    `json:"txHash"`
	StorageURI           string    `json:"storageUri"`
	ListingID            uint64    `json:"listingId"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"createdAt"`
	Social               Social    `json:"social"`
	Capabilities         []string  `json:"capabilities"`
	ComputeModel         string    `json:"computeModel"`
	Views                int64     `json:"views"`
	Likes                int64     `json:"likes"`
	Trending             bool      `json:"trending"`
}

// Listed reports whether the agent has a known on-chain listing id.
func (a *UnifiedAgent) Listed() bool {
	return a.ListingID != ListingIDUnknown
}

// Clone returns a deep copy of the agent.
func (a *UnifiedAgent) Clone() *UnifiedAgent {
	if a == nil {
		return nil
	}
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	return &c
}

// AgentInput is the partial record accepted on create. Missing fields are defaulted.
type AgentInput struct {
	ID                   string   `json:"id" validate:"omitempty,max=128"`
	TokenID              string   `json:"tokenId" validate:"omitempty,number"`
	AgentContractAddress string   `json:"agentContractAddress" validate:"omitempty,evm_addr"`
	Name                 string   `json:"name" validate:"max=100"`
	Description          string   `json:"description" validate:"max=2000"`
	Image                string   `json:"image"`
	Category             string   `json:"category" validate:"max=64"`
	Price                string   `json:"price" validate:"omitempty,numeric"`
	PriceWei             string   `json:"priceWei" validate:"omitempty,number"`
	Creator              string   `json:"creator" validate:"required,evm_addr"`
	CurrentOwner         string   `json:"currentOwner" validate:"omitempty,evm_addr"`
	TxHash               string   `json:"txHash" validate:"omitempty,hexadecimal"`
	StorageURI           string   `json:"storageUri" validate:"max=512"`
	ListingID            uint64   `json:"listingId"`
	Active               *bool    `json:"active"`
	Social               Social   `json:"social"`
	Capabilities         []string `json:"capabilities" validate:"max=20,dive,max=64"`
	ComputeModel         string   `json:"computeModel" validate:"max=64"`
}

// AgentPatch lists the fields an update may change. Identity, creator, token id,
// contract address, tx hash and creation time are deliberately absent.
type AgentPatch struct {
	Name         *string   `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description  *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Image        *string   `json:"image,omitempty"`
	Category     *string   `json:"category,omitempty" validate:"omitempty,min=1,max=64"`
	Price        *string   `json:"price,omitempty" validate:"omitempty,numeric"`
	Active       *bool     `json:"active,omitempty"`
	Social       *Social   `json:"social,omitempty"`
	Capabilities *[]string `json:"capabilities,omitempty" validate:"omitempty,max=20,dive,max=64"`
	ComputeModel *string   `json:"computeModel,omitempty" validate:"omitempty,max=64"`
}

// Empty reports whether the patch changes nothing.
func (p *AgentPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Image == nil && p.Category == nil &&
		p.Price == nil && p.Active == nil && p.Social == nil && p.Capabilities == nil &&
		p.ComputeModel == nil
}

// AgentFilter selects agents on list. Empty fields do not filter; set fields are ANDed.
type AgentFilter struct {
	Creator  string `json:"creator,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Active   *bool  `json:"active,omitempty"`
	Category string `json:"category,omitempty"`
}

// Normalized lowercases the filter so equivalent filters compare equal.
func (f AgentFilter) Normalized() AgentFilter {
	return AgentFilter{
		Creator:  strings.ToLower(strings.TrimSpace(f.Creator)),
		Owner:    strings.ToLower(strings.TrimSpace(f.Owner)),
		Active:   f.Active,
		Category: strings.ToLower(strings.TrimSpace(f.Category)),
	}
}

// CacheKey returns a stable key for the filter set.
func (f AgentFilter) CacheKey() string {
	b, _ := json.Marshal(f.Normalized())
	return "agents:" + string(b)
}

// Matches applies the filter to a single agent, comparing strings case-insensitively.
func (f AgentFilter) Matches(a *UnifiedAgent) bool {
	if f.Creator != "" && !strings.EqualFold(a.Creator, strings.TrimSpace(f.Creator)) {
		return false
	}
	if f.Owner != "" && !strings.EqualFold(a.CurrentOwner, strings.TrimSpace(f.Owner)) {
		return false
	}
	if f.Active != nil && a.Active != *f.Active {
		return false
	}
	if f.Category != "" && !strings.EqualFold(a.Category, strings.TrimSpace(f.Category)) {
		return false
	}
	return true
}
