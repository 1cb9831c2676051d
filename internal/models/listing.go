package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Listing mirrors the marketplace contract's listing struct.
type Listing struct {
	ID          uint64         `json:"listingId"`
	NFTContract common.Address `json:"nftContract"`
	TokenID     *big.Int       `json:"tokenId"`
	Seller      common.Address `json:"seller"`
	Price       *big.Int       `json:"price"`
	Active      bool           `json:"active"`
}

// Clone returns a copy that shares no big.Int values with l.
func (l *Listing) Clone() *Listing {
	c := *l
	c.TokenID = new(big.Int).Set(l.TokenID)
	c.Price = new(big.Int).Set(l.Price)
	return &c
}
