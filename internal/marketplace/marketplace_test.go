package marketplace

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	marketAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	nftAddr      = common.HexToAddress("0xaaa0000000000000000000000000000000000aaa")
	seller       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	seller2      = common.HexToAddress("0x1000000000000000000000000000000000000002")
	buyer        = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

// newMarket returns a marketplace with token 1 owned by seller and approved for the marketplace.
func newMarket(t *testing.T) (*Marketplace, *MemoryRegistry) {
	t.Helper()

	registry := NewMemoryRegistry()
	m, err := New(marketAddr, feeRecipient, DefaultFeeBps, registry)
	require.NoError(t, err)

	mintApproved(t, registry, seller, 1)
	return m, registry
}

func mintApproved(t *testing.T, registry *MemoryRegistry, owner common.Address, tokenID int64) {
	t.Helper()
	require.NoError(t, registry.Mint(nftAddr, owner, big.NewInt(tokenID)))
	require.NoError(t, registry.Approve(nftAddr, owner, marketAddr, big.NewInt(tokenID)))
}

func TestCalculateFeesSplit(t *testing.T) {
	fee, rest := CalculateFees(big.NewInt(100), 250)
	assert.Equal(t, int64(2), fee.Int64())
	assert.Equal(t, int64(98), rest.Int64())

	// 39 * 250 / 10000 = 0.975, floored to zero
	fee, rest = CalculateFees(big.NewInt(39), 250)
	assert.Equal(t, int64(0), fee.Int64())
	assert.Equal(t, int64(39), rest.Int64())

	fee, rest = CalculateFees(big.NewInt(0), 250)
	assert.Zero(t, fee.Sign())
	assert.Zero(t, rest.Sign())
}

func TestCalculateFeesInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tenK := big.NewInt(BasisPoints)

	for i := 0; i < 500; i++ {
		price := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 200))
		bps := uint64(rng.Intn(BasisPoints + 1))

		fee, rest := CalculateFees(price, bps)

		sum := new(big.Int).Add(fee, rest)
		require.Equal(t, 0, sum.Cmp(price), "fee + seller amount must equal price")

		expected := new(big.Int).Mul(price, new(big.Int).SetUint64(bps))
		expected.Div(expected, tenK)
		require.Equal(t, 0, fee.Cmp(expected), "fee must be floor(price*bps/10000)")
	}
}

func TestListAndBuyScenario(t *testing.T) {
	m, registry := newMarket(t)

	listed, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listed.ListingID)
	assert.Equal(t, seller, listed.Seller)

	fee, rest := m.CalculateFees(big.NewInt(100))
	assert.Equal(t, int64(2), fee.Int64())
	assert.Equal(t, int64(98), rest.Int64())

	_, err = m.Buy(buyer, listed.ListingID, big.NewInt(99))
	assert.ErrorIs(t, err, ErrBadPrice)
	listing, ok := m.Listing(listed.ListingID)
	require.True(t, ok)
	assert.True(t, listing.Active, "a rejected buy leaves the listing active")

	purchased, err := m.Buy(buyer, listed.ListingID, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purchased.PlatformFee.Int64())
	assert.Equal(t, int64(98), purchased.SellerAmount.Int64())

	assert.Equal(t, int64(98), m.Balance(seller).Int64())
	assert.Equal(t, int64(2), m.Balance(feeRecipient).Int64())

	owner, err := registry.OwnerOf(nftAddr, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)

	listing, ok = m.Listing(listed.ListingID)
	require.True(t, ok)
	assert.False(t, listing.Active)
}

func TestBuyRequiresExactPrice(t *testing.T) {
	m, _ := newMarket(t)
	listed, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)

	for _, value := range []int64{99, 101, 0} {
		_, err := m.Buy(buyer, listed.ListingID, big.NewInt(value))
		assert.ErrorIs(t, err, ErrBadPrice, "value %d", value)
	}
	_, err = m.Buy(buyer, listed.ListingID, nil)
	assert.ErrorIs(t, err, ErrBadPrice)
}

func TestTerminalStateAfterBuyOrCancel(t *testing.T) {
	m, registry := newMarket(t)
	mintApproved(t, registry, seller, 2)

	bought, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)
	cancelled, err := m.List(seller, nftAddr, big.NewInt(2), big.NewInt(100))
	require.NoError(t, err)

	_, err = m.Buy(buyer, bought.ListingID, big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(seller, cancelled.ListingID))

	for _, id := range []uint64{bought.ListingID, cancelled.ListingID} {
		_, err = m.Buy(buyer, id, big.NewInt(100))
		assert.ErrorIs(t, err, ErrNotActive)
		assert.ErrorIs(t, m.Cancel(seller, id), ErrNotActive)

		listing, ok := m.Listing(id)
		require.True(t, ok)
		assert.False(t, listing.Active)
	}
}

func TestSequentialListingIDs(t *testing.T) {
	m, registry := newMarket(t)
	mintApproved(t, registry, seller2, 2)
	mintApproved(t, registry, seller, 3)

	var ids []uint64
	for _, tc := range []struct {
		caller  common.Address
		tokenID int64
	}{{seller, 1}, {seller2, 2}, {seller, 3}} {
		listed, err := m.List(tc.caller, nftAddr, big.NewInt(tc.tokenID), big.NewInt(10))
		require.NoError(t, err)
		ids = append(ids, listed.ListingID)
	}

	assert.Equal(t, []uint64{1, 2, 3}, ids)
	assert.Equal(t, uint64(4), m.NextListingID())
}

func TestListRequiresOwnerOrApproval(t *testing.T) {
	m, registry := newMarket(t)

	_, err := m.List(buyer, nftAddr, big.NewInt(1), big.NewInt(100))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = m.List(seller, nftAddr, big.NewInt(42), big.NewInt(100))
	assert.ErrorIs(t, err, ErrNotOwner, "nonexistent token")

	// an approved operator may list; the seller is still the owner
	registry.SetApprovalForAll(nftAddr, seller, buyer, true)
	listed, err := m.List(buyer, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, seller, listed.Seller)
}

func TestActivePairIsUnique(t *testing.T) {
	m, _ := newMarket(t)

	first, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)
	_, err = m.List(seller, nftAddr, big.NewInt(1), big.NewInt(200))
	assert.ErrorIs(t, err, ErrAlreadyListed)

	require.NoError(t, m.Cancel(seller, first.ListingID))
	relisted, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(200))
	require.NoError(t, err)
	assert.Greater(t, relisted.ListingID, first.ListingID, "a new listing gets a new id")

	old, _ := m.Listing(first.ListingID)
	assert.Equal(t, int64(100), old.Price.Int64(), "inactive listings are historical record")
}

func TestCancelOnlyBySeller(t *testing.T) {
	m, _ := newMarket(t)
	listed, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)

	assert.ErrorIs(t, m.Cancel(buyer, listed.ListingID), ErrNotSeller)
	listing, _ := m.Listing(listed.ListingID)
	assert.True(t, listing.Active)

	assert.ErrorIs(t, m.Cancel(seller, 99), ErrNotActive)
}

func TestBuyFailsWhenApprovalRevoked(t *testing.T) {
	m, registry := newMarket(t)
	listed, err := m.List(seller, nftAddr, big.NewInt(1), big.NewInt(100))
	require.NoError(t, err)

	require.NoError(t, registry.Approve(nftAddr, seller, common.Address{}, big.NewInt(1)))

	_, err = m.Buy(buyer, listed.ListingID, big.NewInt(100))
	assert.ErrorIs(t, err, ErrNotApproved)
	listing, _ := m.Listing(listed.ListingID)
	assert.True(t, listing.Active)
}

func TestRevertReason(t *testing.T) {
	reason, ok := RevertReason(ErrBadPrice)
	assert.True(t, ok)
	assert.Equal(t, "BAD_PRICE", reason)
	assert.Equal(t, "execution reverted: NOT_ACTIVE", ErrNotActive.Error())

	_, err := New(marketAddr, feeRecipient, BasisPoints+1, NewMemoryRegistry())
	assert.Error(t, err)
}
