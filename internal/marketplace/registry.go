package marketplace

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNonexistentToken = errors.New("ERC721: invalid token ID")
	errNotAuthorized    = errors.New("ERC721: caller is not token owner or approved")
)

type token struct {
	owner    common.Address
	approved common.Address
}

// MemoryRegistry is an in-memory set of ERC-721 contracts.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tokens map[common.Address]map[string]*token
	// operators[nft][owner][operator] mirrors setApprovalForAll.
	operators map[common.Address]map[common.Address]map[common.Address]bool
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tokens:    make(map[common.Address]map[string]*token),
		operators: make(map[common.Address]map[common.Address]map[common.Address]bool),
	}
}

// Mint assigns a new token to owner.
func (r *MemoryRegistry) Mint(nft, owner common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coll, ok := r.tokens[nft]
	if !ok {
		coll = make(map[string]*token)
		r.tokens[nft] = coll
	}
	if _, exists := coll[tokenID.String()]; exists {
		return errors.New("ERC721: token already minted")
	}
	coll[tokenID.String()] = &token{owner: owner}
	return nil
}

// Approve sets the single approved spender of a token. Only the owner may approve.
func (r *MemoryRegistry) Approve(nft, caller, spender common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(nft, tokenID)
	if err != nil {
		return err
	}
	if t.owner != caller && !r.operators[nft][t.owner][caller] {
		return errNotAuthorized
	}
	t.approved = spender
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's tokens.
func (r *MemoryRegistry) SetApprovalForAll(nft, owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.operators[nft] == nil {
		r.operators[nft] = make(map[common.Address]map[common.Address]bool)
	}
	if r.operators[nft][owner] == nil {
		r.operators[nft][owner] = make(map[common.Address]bool)
	}
	r.operators[nft][owner][operator] = approved
}

// OwnerOf returns the owner of a token.
func (r *MemoryRegistry) OwnerOf(nft common.Address, tokenID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.lookup(nft, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return t.owner, nil
}

// IsApprovedOrOwner reports whether spender may move the token.
func (r *MemoryRegistry) IsApprovedOrOwner(nft, spender common.Address, tokenID *big.Int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authorized(nft, spender, tokenID)
}

// TransferFrom moves a token from its owner to to. The operator must be authorized.
func (r *MemoryRegistry) TransferFrom(nft, operator, from, to common.Address, tokenID *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(nft, tokenID)
	if err != nil {
		return err
	}
	if t.owner != from || !r.authorized(nft, operator, tokenID) {
		return errNotAuthorized
	}
	t.owner = to
	t.approved = common.Address{}
	return nil
}

func (r *MemoryRegistry) lookup(nft common.Address, tokenID *big.Int) (*token, error) {
	t, ok := r.tokens[nft][tokenID.String()]
	if !ok {
		return nil, errNonexistentToken
	}
	return t, nil
}

func (r *MemoryRegistry) authorized(nft, spender common.Address, tokenID *big.Int) bool {
	t, err := r.lookup(nft, tokenID)
	if err != nil {
		return false
	}
	return t.owner == spender || t.approved == spender || r.operators[nft][t.owner][spender]
}
