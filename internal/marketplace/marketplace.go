// Package marketplace implements the listing and escrow state machine executed by
// the marketplace contract: list, buy, cancel and the platform fee split.
package marketplace

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// BasisPoints is the denominator of the platform fee.
const BasisPoints = 10000

// DefaultFeeBps is a 2.5% platform fee.
const DefaultFeeBps = 250

// TokenRegistry is the view of ERC-721 contracts the marketplace needs.
type TokenRegistry interface {
	OwnerOf(nft common.Address, tokenID *big.Int) (common.Address, error)
	IsApprovedOrOwner(nft common.Address, spender common.Address, tokenID *big.Int) bool
	TransferFrom(nft common.Address, operator, from, to common.Address, tokenID *big.Int) error
}

// ListedEvent is emitted by List.
type ListedEvent struct {
	ListingID   uint64
	NFTContract common.Address
	TokenID     *big.Int
	Seller      common.Address
	Price       *big.Int
}

// PurchasedEvent is emitted by Buy.
type PurchasedEvent struct {
	ListingID    uint64
	Buyer        common.Address
	PlatformFee  *big.Int
	SellerAmount *big.Int
}

type tokenKey struct {
	nft     common.Address
	tokenID string
}

// Marketplace holds listings and the payouts credited by purchases.
type Marketplace struct {
	mu sync.Mutex

	address      common.Address
	feeRecipient common.Address
	feeBps       uint64
	registry     TokenRegistry

	nextID   uint64
	listings map[uint64]*models.Listing
	active   map[tokenKey]uint64
	balances map[common.Address]*big.Int
}

// New creates a marketplace deployed at address. Listing ids start at 1.
func New(address, feeRecipient common.Address, feeBps uint64, registry TokenRegistry) (*Marketplace, error) {
	if feeBps > BasisPoints {
		return nil, fmt.Errorf("fee %d bps exceeds %d", feeBps, BasisPoints)
	}
	return &Marketplace{
		address:      address,
		feeRecipient: feeRecipient,
		feeBps:       feeBps,
		registry:     registry,
		nextID:       1,
		listings:     make(map[uint64]*models.Listing),
		active:       make(map[tokenKey]uint64),
		balances:     make(map[common.Address]*big.Int),
	}, nil
}

// Address returns the marketplace's own address, used as the transfer operator.
func (m *Marketplace) Address() common.Address { return m.address }

// FeeRecipient returns the platform fee recipient.
func (m *Marketplace) FeeRecipient() common.Address { return m.feeRecipient }

// FeeBps returns the platform fee in basis points.
func (m *Marketplace) FeeBps() uint64 { return m.feeBps }

// CalculateFees splits price into the platform fee, rounded down, and the seller amount.
func CalculateFees(price *big.Int, feeBps uint64) (platformFee, sellerAmount *big.Int) {
	platformFee = new(big.Int).Mul(price, new(big.Int).SetUint64(feeBps))
	platformFee.Quo(platformFee, big.NewInt(BasisPoints))
	sellerAmount = new(big.Int).Sub(price, platformFee)
	return platformFee, sellerAmount
}

// CalculateFees applies the marketplace's fee schedule to price.
func (m *Marketplace) CalculateFees(price *big.Int) (platformFee, sellerAmount *big.Int) {
	return CalculateFees(price, m.feeBps)
}

// List creates an active listing owned by the token's current owner. The caller
// must own the token or be approved for it.
func (m *Marketplace) List(caller, nft common.Address, tokenID, price *big.Int) (*ListedEvent, error) {
	if tokenID == nil || tokenID.Sign() < 0 || price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("invalid listing arguments")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	owner, err := m.registry.OwnerOf(nft, tokenID)
	if err != nil || !m.registry.IsApprovedOrOwner(nft, caller, tokenID) {
		return nil, ErrNotOwner
	}

	key := tokenKey{nft: nft, tokenID: tokenID.String()}
	if _, listed := m.active[key]; listed {
		return nil, ErrAlreadyListed
	}

	id := m.nextID
	m.nextID++

	listing := &models.Listing{
		ID:          id,
		NFTContract: nft,
		TokenID:     new(big.Int).Set(tokenID),
		Seller:      owner,
		Price:       new(big.Int).Set(price),
		Active:      true,
	}
	m.listings[id] = listing
	m.active[key] = id

	return &ListedEvent{
		ListingID:   id,
		NFTContract: nft,
		TokenID:     new(big.Int).Set(tokenID),
		Seller:      owner,
		Price:       new(big.Int).Set(price),
	}, nil
}

// Buy purchases an active listing. value must equal the listing price exactly.
func (m *Marketplace) Buy(buyer common.Address, listingID uint64, value *big.Int) (*PurchasedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok || !listing.Active {
		return nil, ErrNotActive
	}
	if value == nil || value.Cmp(listing.Price) != 0 {
		return nil, ErrBadPrice
	}

	if err := m.registry.TransferFrom(listing.NFTContract, m.address, listing.Seller, buyer, listing.TokenID); err != nil {
		return nil, ErrNotApproved
	}

	fee, sellerAmount := m.CalculateFees(listing.Price)
	m.credit(m.feeRecipient, fee)
	m.credit(listing.Seller, sellerAmount)
	m.deactivate(listing)

	return &PurchasedEvent{
		ListingID:    listingID,
		Buyer:        buyer,
		PlatformFee:  fee,
		SellerAmount: sellerAmount,
	}, nil
}

// Cancel deactivates a listing. Only the seller may cancel; no funds move.
func (m *Marketplace) Cancel(caller common.Address, listingID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok || !listing.Active {
		return ErrNotActive
	}
	if listing.Seller != caller {
		return ErrNotSeller
	}
	m.deactivate(listing)
	return nil
}

// Listing returns a copy of a listing. Unknown ids report false, like an
// unwritten storage slot.
func (m *Marketplace) Listing(listingID uint64) (*models.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

// NextListingID returns the id the next List call will assign.
func (m *Marketplace) NextListingID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

// Balance returns the total credited to addr by purchases.
func (m *Marketplace) Balance(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Marketplace) credit(addr common.Address, amount *big.Int) {
	b, ok := m.balances[addr]
	if !ok {
		b = new(big.Int)
		m.balances[addr] = b
	}
	b.Add(b, amount)
}

func (m *Marketplace) deactivate(listing *models.Listing) {
	listing.Active = false
	delete(m.active, tokenKey{nft: listing.NFTContract, tokenID: listing.TokenID.String()})
}
