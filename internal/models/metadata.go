package models

import "time"

// Attribute is an ERC-721 metadata trait.
type Attribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// AgentMetadata is the JSON document pinned for an agent before minting.
type AgentMetadata struct {
	Name         string      `json:"name" validate:"required,max=100"`
	Description  string      `json:"description" validate:"max=2000"`
	Image        string      `json:"image,omitempty"`
	Creator      string      `json:"creator" validate:"required,evm_addr"`
	Category     string      `json:"category" validate:"max=64"`
	Capabilities []string    `json:"capabilities,omitempty" validate:"max=20,dive,max=64"`
	Skills       []string    `json:"skills,omitempty"`
	ComputeModel string      `json:"computeModel,omitempty"`
	Price        string      `json:"price,omitempty" validate:"omitempty,numeric"`
	Social       Social      `json:"social,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}
