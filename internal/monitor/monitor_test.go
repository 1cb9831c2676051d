package monitor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/inft-marketplace/internal/agents"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/devchain"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	price = big.NewInt(1_000_000_000_000_000_000)
	buyer = common.HexToAddress("0x00000000000000000000000000000000000b0b00")
)

type fixture struct {
	chain  *devchain.Chain
	agents *agents.Service
	cursor *storage.MemoryStorage
	agent  *models.UnifiedAgent
}

// newFixture lists one token on chain and stores its agent without a listing id.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	chain := devchain.New(devchain.Options{})
	factory := contracts.NewFactory(chain, chain.Factory())
	nft := contracts.NewAgentNFT(chain)

	_, err := factory.CreateAgent(ctx, contracts.CreateAgentParams{Name: "Watcher", Price: price}, devchain.DefaultCreationFee, 5_000_000)
	require.NoError(t, err)
	contract, err := factory.AgentAt(ctx, 0)
	require.NoError(t, err)
	_, err = nft.Mint(ctx, contract, "ipfs://watch", 500_000)
	require.NoError(t, err)
	_, err = nft.Approve(ctx, contract, chain.Marketplace(), big.NewInt(1), 500_000)
	require.NoError(t, err)
	_, err = contracts.NewMarketplace(chain, chain.Marketplace()).List(ctx, contract, big.NewInt(1), price, 500_000)
	require.NoError(t, err)

	svc := agents.NewService(nil, agents.Options{}, nil)
	agent, err := svc.Create(ctx, &models.AgentInput{
		TokenID:              "1",
		AgentContractAddress: contract.Hex(),
		Creator:              chain.Account().Hex(),
		Price:                "1",
	})
	require.NoError(t, err)
	require.False(t, agent.Listed())

	return &fixture{chain: chain, agents: svc, cursor: storage.NewMemoryStorage(), agent: agent}
}

func (f *fixture) watcher(cfg *Config) *ListingWatcher {
	return NewListingWatcher(f.chain, f.chain.Marketplace(), f.agents, f.cursor, cfg, nil)
}

func TestPollAttachesListingAndMarksSold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.watcher(&Config{BatchSize: 2})

	res, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []BlockRange{{From: 1, To: 2}, {From: 3, To: 4}}, res.Ranges)
	assert.Equal(t, 1, res.EventsFound)
	assert.Equal(t, 1, res.Attached)
	assert.Equal(t, uint64(4), res.Processed)

	agent, err := f.agents.Get(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agent.ListingID)

	cursor, err := f.cursor.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cursor)

	_, err = contracts.NewMarketplace(f.chain.As(buyer), f.chain.Marketplace()).Buy(ctx, 1, price, 500_000)
	require.NoError(t, err)

	res, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MarkedSold)

	agent, err = f.agents.Get(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.False(t, agent.Active)
	assert.Equal(t, utils.AddressHex(buyer), agent.CurrentOwner)

	res, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Ranges)

	stats := w.GetStats()
	assert.Equal(t, uint64(1), stats.ListingsAttached)
	assert.Equal(t, uint64(1), stats.AgentsMarkedSold)
	assert.Equal(t, uint64(5), stats.LatestProcessedBlock)
}

func TestPollKeepsKnownListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.agents.AttachListing(ctx, f.agent.ID, 7)
	require.NoError(t, err)

	res, err := f.watcher(&Config{}).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsFound)
	assert.Zero(t, res.Attached)

	agent, err := f.agents.Get(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), agent.ListingID)
}

func TestPollWaitsForConfirmations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.watcher(&Config{ConfirmationBlocks: 10}).Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Ranges)

	res, err = f.watcher(&Config{ConfirmationBlocks: 1}).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Processed)
	assert.Zero(t, res.Attached)
}

func TestPollHonoursStartBlock(t *testing.T) {
	f := newFixture(t)

	res, err := f.watcher(&Config{StartBlock: 4}).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []BlockRange{{From: 4, To: 4}}, res.Ranges)
	assert.Equal(t, 1, res.Attached)
}

func TestPollRewindsCursorAheadOfHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cursor.SetLatestProcessedBlock(ctx, 100))

	res, err := f.watcher(&Config{}).Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Processed)

	cursor, err := f.cursor.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cursor)
}

func TestPollLeavesCursorOnRPCError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.watcher(&Config{})

	f.chain.FailNext(errors.New("connection refused"))
	_, err := w.Poll(ctx)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeBlockchain))

	cursor, err := f.cursor.GetLatestProcessedBlock(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)
	assert.Equal(t, uint64(1), w.PollerStats()["error_count"])
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	w := f.watcher(&Config{PollInterval: 5 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		agent, err := f.agents.Get(context.Background(), f.agent.ID)
		return err == nil && agent.Listed()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestParseLog(t *testing.T) {
	ev, err := ParseLog(contracts.TransferLog(common.HexToAddress("0x01"), common.Address{}, buyer, big.NewInt(1)))
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = ParseLog(types.Log{})
	require.NoError(t, err)
	assert.Nil(t, ev)

	bad := types.Log{Topics: []common.Hash{contracts.ListedTopic}}
	_, err = ParseLog(bad)
	assert.Error(t, err)
}
