package saga

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/inft-marketplace/internal/agents"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/devchain"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/pinning"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var buyerAddr = common.HexToAddress("0x00000000000000000000000000000000000b0b00")

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (n *recordingNotifier) Channel() string { return "test" }

func (n *recordingNotifier) Notify(_ context.Context, ntf *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ntf)
	return nil
}

func (n *recordingNotifier) ofType(kind models.NotificationType) []*models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*models.Notification
	for _, ntf := range n.sent {
		if ntf.Type == kind {
			out = append(out, ntf)
		}
	}
	return out
}

// failingClient rejects transactions whose calldata starts with selector.
type failingClient struct {
	*devchain.Chain
	selector []byte
	err      error
}

func (c *failingClient) SendTransaction(ctx context.Context, req *connection.TxRequest) (common.Hash, error) {
	if bytes.HasPrefix(req.Data, c.selector) {
		return common.Hash{}, c.err
	}
	return c.Chain.SendTransaction(ctx, req)
}

// listLogStripper hides the logs of list receipts, as a node that has not
// indexed them yet would.
type listLogStripper struct {
	*devchain.Chain
}

func (c *listLogStripper) GetLogs(receipt *types.Receipt) []types.Log {
	logs := c.Chain.GetLogs(receipt)
	for _, l := range logs {
		if len(l.Topics) > 0 && l.Topics[0] == contracts.ListedTopic {
			return nil
		}
	}
	return logs
}

type slowUploader struct{}

func (slowUploader) Upload(ctx context.Context, _ *models.AgentMetadata) (*pinning.UploadResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type staticUploader struct{}

func (staticUploader) Upload(context.Context, *models.AgentMetadata) (*pinning.UploadResult, error) {
	return &pinning.UploadResult{CID: "bafytest", URI: "ipfs://bafytest"}, nil
}

type harness struct {
	chain    *devchain.Chain
	agents   *agents.Service
	progress *storage.MemoryStorage
	notifier *recordingNotifier
}

func newHarness() *harness {
	return &harness{
		chain:    devchain.New(devchain.Options{}),
		agents:   agents.NewService(nil, agents.Options{}, nil),
		progress: storage.NewMemoryStorage(),
		notifier: &recordingNotifier{},
	}
}

func (h *harness) orchestrator(client connection.Client, uploader pinning.Uploader) *Orchestrator {
	factory := contracts.NewFactory(client, devchain.DefaultFactory)
	market := contracts.NewMarketplace(client, devchain.DefaultMarketplace)
	engine := reconcile.NewEngine(client, reconcile.Config{
		ReceiptAttempts: 3,
		ReceiptDelay:    time.Millisecond,
		MaxPlausibleID:  1_000_000,
	}, nil, reconcile.WithListingCounter(market), reconcile.WithAgentRegistry(factory))

	return New(Deps{
		Client:      client,
		Factory:     factory,
		Marketplace: market,
		Engine:      engine,
		Agents:      h.agents,
		Uploader:    uploader,
		Notifier:    h.notifier,
		Recorder:    NewStepRecorder(h.progress),
	}, Config{UploadTimeout: 50 * time.Millisecond}, nil)
}

func sampleRequest() CreateRequest {
	return CreateRequest{
		Name:         "Yield Scout",
		Description:  "Finds yield",
		Category:     "DeFi",
		Capabilities: []string{"scan", "rank", "alert", "rebalance"},
		Price:        "1.5",
	}
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	o := h.orchestrator(h.chain, staticUploader{})

	res, err := o.CreateAndList(ctx, sampleRequest())
	require.NoError(t, err)

	assert.False(t, res.Flagged)
	assert.False(t, res.MetadataFallback)
	assert.Equal(t, "ipfs://bafytest", res.StorageURI)
	assert.Equal(t, reconcile.MethodEvent, res.ContractMethod)
	assert.Equal(t, reconcile.MethodEvent, res.ListingMethod)
	assert.Equal(t, uint64(1), res.ListingID)
	assert.Equal(t, "1", res.TokenID)

	require.NotNil(t, res.Agent)
	assert.Equal(t, res.ContractAddress, res.Agent.AgentContractAddress)
	assert.Equal(t, strings.ToLower(res.ContractAddress), res.ContractAddress)
	assert.Equal(t, "1500000000000000000", res.Agent.PriceWei)
	assert.True(t, res.Agent.Active)
	assert.Equal(t, uint64(1), res.Agent.ListingID)

	listing, ok := h.chain.Market().Listing(1)
	require.True(t, ok)
	assert.True(t, listing.Active)
	assert.Equal(t, common.HexToAddress(res.ContractAddress), listing.NFTContract)

	progress, err := h.progress.GetSagaProgress(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, string(StepDone), progress.Step)
	assert.Equal(t, models.SagaStatusConfirmed, progress.Status)
	assert.Equal(t, res.Agent.ID, progress.AgentID)
	assert.Empty(t, h.notifier.sent)
}

func TestCreateAndListUsesFallbackURIOnUploadTimeout(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(h.chain, slowUploader{})

	res, err := o.CreateAndList(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.True(t, res.MetadataFallback)
	assert.Regexp(t, `^fallback://metadata/\d+$`, res.StorageURI)
	assert.Equal(t, res.StorageURI, res.Agent.StorageURI)
	assert.True(t, res.Agent.Listed())
}

func TestCreateAndListFlagsUnknownListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	o := h.orchestrator(&listLogStripper{Chain: h.chain}, nil)

	res, err := o.CreateAndList(ctx, sampleRequest())
	require.NoError(t, err)

	assert.True(t, res.Flagged)
	assert.Equal(t, models.ListingIDUnknown, res.ListingID)
	assert.Equal(t, reconcile.MethodUnknown, res.ListingMethod)
	assert.Equal(t, reconcile.MethodEvent, res.ContractMethod)
	assert.Equal(t, "1", res.TokenID)
	assert.False(t, res.Agent.Listed())

	progress, err := h.progress.GetSagaProgress(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, models.SagaStatusFlagged, progress.Status)

	alerts := h.notifier.ofType(models.NotificationManualReconciliation)
	require.Len(t, alerts, 1)
	assert.Equal(t, res.ListTxHash, alerts[0].Data["tx_hash"])
}

func TestCreateAndListFailureAfterSideEffectNotifies(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	client := &failingClient{
		Chain:    h.chain,
		selector: contracts.AgentNFTABI.Methods["approve"].ID,
		err:      errors.New("execution reverted: out of gas"),
	}
	o := h.orchestrator(client, nil)

	res, err := o.CreateAndList(ctx, sampleRequest())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepApprove, stepErr.Step)
	assert.Equal(t, KindOutOfGas, stepErr.Class.Kind)
	assert.NotEmpty(t, stepErr.TxHash)
	assert.Equal(t, "1", res.TokenID)

	failures := h.notifier.ofType(models.NotificationSagaFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, stepErr.TxHash, failures[0].Data["tx_hash"])

	progress, err := h.progress.GetSagaProgress(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, string(StepApprove), progress.Step)
	assert.Equal(t, models.SagaStatusFailed, progress.Status)

	agentsList, err := h.agents.List(ctx, models.AgentFilter{})
	require.NoError(t, err)
	assert.Empty(t, agentsList)
}

func TestCreateAndListInsufficientFunds(t *testing.T) {
	h := newHarness()
	client := &failingClient{
		Chain:    h.chain,
		selector: contracts.FactoryABI.Methods["createAgent"].ID,
		err:      errors.New("insufficient funds for gas * price + value"),
	}
	o := h.orchestrator(client, nil)

	_, err := o.CreateAndList(context.Background(), sampleRequest())
	require.Error(t, err)
	class := Classify(err)
	assert.Equal(t, KindInsufficientFunds, class.Kind)
	assert.Equal(t, "Insufficient funds in your wallet.", class.Message)
	assert.Empty(t, h.notifier.sent)
}

func TestCreateAndListRejectsBadPrice(t *testing.T) {
	h := newHarness()
	req := sampleRequest()
	req.Price = "abc"

	_, err := h.orchestrator(h.chain, nil).CreateAndList(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", utils.ErrorCode(err))
}

func createListed(t *testing.T, h *harness) *models.UnifiedAgent {
	t.Helper()
	res, err := h.orchestrator(h.chain, nil).CreateAndList(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.True(t, res.Agent.Listed())
	return res.Agent
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	agent := createListed(t, h)

	res, err := h.orchestrator(h.chain.As(buyerAddr), nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.NoError(t, err)

	assert.True(t, res.Validated)
	assert.Equal(t, agent.PriceWei, res.PriceWei)
	require.NotNil(t, res.Agent)
	assert.False(t, res.Agent.Active)
	assert.Equal(t, strings.ToLower(buyerAddr.Hex()), res.Agent.CurrentOwner)

	listing, ok := h.chain.Market().Listing(agent.ListingID)
	require.True(t, ok)
	assert.False(t, listing.Active)

	fee, sellerAmount := marketplace.CalculateFees(listing.Price, marketplace.DefaultFeeBps)
	assert.Equal(t, 0, fee.Cmp(h.chain.Market().Balance(devchain.DefaultFeeRecipient)))
	assert.Equal(t, 0, sellerAmount.Cmp(h.chain.Market().Balance(devchain.DefaultAccount)))

	assert.Len(t, h.notifier.ofType(models.NotificationAgentSold), 1)

	progress, err := h.progress.GetSagaProgress(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, string(StepDone), progress.Step)
}

func TestPurchaseRejectsSelfPurchase(t *testing.T) {
	h := newHarness()
	agent := createListed(t, h)

	_, err := h.orchestrator(h.chain, nil).Purchase(context.Background(), PurchaseRequest{AgentID: agent.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSelfPurchase)
	assert.Equal(t, KindSelfPurchase, Classify(err).Kind)

	listing, _ := h.chain.Market().Listing(agent.ListingID)
	assert.True(t, listing.Active)
}

func TestPurchaseRejectsUnknownListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	agent, err := h.agents.Create(ctx, &models.AgentInput{Creator: devchain.DefaultAccount.Hex()})
	require.NoError(t, err)

	_, err = h.orchestrator(h.chain.As(buyerAddr), nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.Error(t, err)
	class := Classify(err)
	assert.Equal(t, KindNotListed, class.Kind)
	assert.Equal(t, "This NFT is not available for purchase.", class.Message)
}

func TestPurchaseOfSoldListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	agent := createListed(t, h)

	_, err := h.orchestrator(h.chain.As(buyerAddr), nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.NoError(t, err)

	late := h.chain.As(common.HexToAddress("0x0000000000000000000000000000000000000c0c"))
	_, err = h.orchestrator(late, nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepValidateListing, stepErr.Step)
	assert.Equal(t, KindNotActive, stepErr.Class.Kind)
	assert.Equal(t, "This NFT is no longer available for purchase.", stepErr.Class.Message)
}

func TestPurchaseWithChangedPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	agent := createListed(t, h)

	price := "2"
	_, err := h.agents.Update(ctx, agent.ID, &models.AgentPatch{Price: &price}, agent.Creator)
	require.NoError(t, err)

	_, err = h.orchestrator(h.chain.As(buyerAddr), nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.Error(t, err)
	assert.Equal(t, KindBadPrice, Classify(err).Kind)

	listing, _ := h.chain.Market().Listing(agent.ListingID)
	assert.True(t, listing.Active)
}

func TestPurchaseProceedsWhenListingReadFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	agent := createListed(t, h)

	buyer := h.chain.As(buyerAddr)
	h.chain.FailNext(errors.New("connection reset by peer"))
	res, err := h.orchestrator(buyer, nil).Purchase(ctx, PurchaseRequest{AgentID: agent.ID})
	require.NoError(t, err)
	assert.False(t, res.Validated)
	assert.False(t, res.Agent.Active)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{marketplace.ErrNotActive, KindNotActive},
		{fmt.Errorf("send: %w", marketplace.ErrBadPrice), KindBadPrice},
		{marketplace.ErrNotApproved, KindNotOwner},
		{errors.New("MetaMask Tx Signature: User rejected the transaction"), KindUserRejected},
		{errors.New("rpc error code 4001"), KindUserRejected},
		{errors.New("insufficient funds for gas * price + value"), KindInsufficientFunds},
		{errors.New("execution reverted: NOT_ACTIVE"), KindNotActive},
		{fmt.Errorf("wait: %w", reconcile.ErrReceiptTimeout), KindNetworkTimeout},
		{context.DeadlineExceeded, KindNetworkTimeout},
		{errors.New("gas required exceeds allowance"), KindOutOfGas},
		{errors.New("something odd"), KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			class := Classify(tt.err)
			assert.Equal(t, tt.kind, class.Kind)
			assert.NotEmpty(t, class.Message)
		})
	}

	assert.Equal(t, Classification{}, Classify(nil))
	assert.False(t, classification(KindBadPrice).Retryable())
	assert.True(t, classification(KindNetworkTimeout).Retryable())
}

func TestCreationFeeFallback(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(h.chain, nil)
	o.cfg.CreationFee = big.NewInt(42)

	h.chain.FailNext(errors.New("connection refused"))
	assert.Equal(t, big.NewInt(42), o.creationFee(context.Background()))
	assert.Equal(t, devchain.DefaultCreationFee, o.creationFee(context.Background()))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, truncate([]string{"a", "b", "c", "d"}, 3))
	assert.Equal(t, []string{"a"}, truncate([]string{"a"}, 3))
	assert.Nil(t, truncate(nil, 3))
}
