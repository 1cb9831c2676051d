// Package devchain is an in-process chain that runs the marketplace, agent
// factory and agent NFT contracts behind connection.Client. It backs the demo
// command and tests that need receipts and logs without a node.
package devchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Well-known addresses of the dev deployment.
var (
	DefaultAccount      = common.HexToAddress("0x00000000000000000000000000000000000d0001")
	DefaultFactory      = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	DefaultMarketplace  = common.HexToAddress("0x000000000000000000000000000000000000a11e")
	DefaultFeeRecipient = common.HexToAddress("0x00000000000000000000000000000000000fee00")
)

// DefaultCreationFee is 0.01 ether.
var DefaultCreationFee = big.NewInt(10_000_000_000_000_000)

// Options configures a dev chain.
type Options struct {
	ChainID     uint64
	// FeeBps defaults to marketplace.DefaultFeeBps when nil. Zero is a valid fee.
	FeeBps      *uint64
	CreationFee *big.Int
}

type agentContract struct {
	owner     common.Address
	name      string
	nextToken uint64
	tokenURIs map[uint64]string
}

type pendingReceipt struct {
	receipt   *types.Receipt
	pollsLeft int
}

type state struct {
	mu sync.Mutex

	chainID     uint64
	block       uint64
	nonce       uint64
	creationFee *big.Int

	registry *marketplace.MemoryRegistry
	market   *marketplace.Marketplace
	agents   map[common.Address]*agentContract
	deployed []common.Address

	receipts map[common.Hash]*pendingReceipt
	logs     []types.Log

	receiptDelay int
	failNext     error
	stripLogs    bool
}

// Chain is a view of the dev chain that signs as one account.
type Chain struct {
	*state
	account common.Address
	logger  *logrus.Entry
}

var _ connection.Client = (*Chain)(nil)
var _ connection.LogSource = (*Chain)(nil)

// New creates a dev chain with the factory and marketplace deployed.
func New(opts Options) *Chain {
	if opts.ChainID == 0 {
		opts.ChainID = 16601
	}
	feeBps := uint64(marketplace.DefaultFeeBps)
	if opts.FeeBps != nil {
		feeBps = *opts.FeeBps
	}
	if opts.CreationFee == nil {
		opts.CreationFee = new(big.Int).Set(DefaultCreationFee)
	}

	registry := marketplace.NewMemoryRegistry()
	market, err := marketplace.New(DefaultMarketplace, DefaultFeeRecipient, feeBps, registry)
	if err != nil {
		panic(err)
	}

	return &Chain{
		state: &state{
			chainID:     opts.ChainID,
			creationFee: opts.CreationFee,
			registry:    registry,
			market:      market,
			agents:      make(map[common.Address]*agentContract),
			receipts:    make(map[common.Hash]*pendingReceipt),
		},
		account: DefaultAccount,
		logger:  utils.ComponentLogger("devchain"),
	}
}

// As returns a view of the same chain that sends transactions from account.
func (c *Chain) As(account common.Address) *Chain {
	return &Chain{state: c.state, account: account, logger: c.logger}
}

// Account is the sending address of this view.
func (c *Chain) Account() common.Address { return c.account }

// ChainID is the configured chain id.
func (c *Chain) ChainID() uint64 { return c.chainID }

// Factory is the agent factory address.
func (c *Chain) Factory() common.Address { return DefaultFactory }

// Marketplace is the marketplace address.
func (c *Chain) Marketplace() common.Address { return DefaultMarketplace }

// Market exposes the marketplace state machine for assertions.
func (c *Chain) Market() *marketplace.Marketplace { return c.market }

// SetReceiptDelay hides each new receipt for the next n GetReceipt polls.
func (c *Chain) SetReceiptDelay(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptDelay = n
}

// FailNext makes the next RPC-style call return err.
func (c *Chain) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// StripLogs makes subsequent receipts carry no logs, as seen on nodes that
// return receipts before logs are indexed.
func (c *Chain) StripLogs(strip bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stripLogs = strip
}

func (c *Chain) takeFailure() error {
	err := c.failNext
	c.failNext = nil
	return err
}

// BlockNumber returns the height of the latest mined block.
func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return 0, err
	}
	return c.block, nil
}

// GetReceipt returns the receipt once its delay has elapsed.
func (c *Chain) GetReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return nil, err
	}

	p, ok := c.receipts[txHash]
	if !ok {
		return nil, nil
	}
	if p.pollsLeft > 0 {
		p.pollsLeft--
		return nil, nil
	}
	return p.receipt, nil
}

// GetLogs returns the receipt's logs.
func (c *Chain) GetLogs(receipt *types.Receipt) []types.Log {
	return connection.ReceiptLogs(receipt)
}

// FilterLogs returns mined logs matching the block range, addresses and first topic.
func (c *Chain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return nil, err
	}

	var out []types.Log
	for _, l := range c.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !containsHash(q.Topics[0], l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// SendTransaction executes the call immediately and mines it in its own block.
// Reverts are returned as errors without mining, as a node's gas estimation would.
func (c *Chain) SendTransaction(_ context.Context, req *connection.TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return common.Hash{}, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	logs, err := c.execute(c.account, req.To, req.Data, value)
	if err != nil {
		return common.Hash{}, err
	}
	return c.mine(logs), nil
}

func (c *Chain) mine(logs []types.Log) common.Hash {
	c.nonce++
	c.block++
	txHash := crypto.Keccak256Hash(c.account.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes())

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21_000,
	}
	for i := range logs {
		l := logs[i]
		l.BlockNumber = c.block
		l.TxHash = txHash
		l.Index = uint(len(c.logs))
		l.TxIndex = 0
		c.logs = append(c.logs, l)
		if !c.stripLogs {
			lc := l
			receipt.Logs = append(receipt.Logs, &lc)
		}
	}

	c.receipts[txHash] = &pendingReceipt{receipt: receipt, pollsLeft: c.receiptDelay}
	c.logger.WithFields(logrus.Fields{
		"tx_hash": txHash.Hex(),
		"block":   c.block,
		"logs":    len(logs),
	}).Debug("Transaction mined")
	return txHash
}

// Call executes a view function against current state. Calls to addresses
// without code return empty bytes.
func (c *Chain) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(); err != nil {
		return nil, err
	}

	switch {
	case to == DefaultMarketplace:
		return c.callMarketplace(data)
	case to == DefaultFactory:
		return c.callFactory(data)
	case c.agents[to] != nil:
		return c.callAgent(to, data)
	default:
		return nil, nil
	}
}

func (c *Chain) execute(from, to common.Address, data []byte, value *big.Int) ([]types.Log, error) {
	switch {
	case to == DefaultMarketplace:
		return c.execMarketplace(from, data, value)
	case to == DefaultFactory:
		return c.execFactory(from, data, value)
	case c.agents[to] != nil:
		return c.execAgent(from, to, data)
	default:
		return nil, fmt.Errorf("no contract code at %s", to.Hex())
	}
}

func decode(contract abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, &marketplace.RevertError{Reason: "missing selector"}
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, &marketplace.RevertError{Reason: "unknown selector"}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, &marketplace.RevertError{Reason: "invalid calldata"}
	}
	return method, args, nil
}

// asRevert turns registry failures into reverts, leaving existing reverts as they are.
func asRevert(err error) error {
	var revert *marketplace.RevertError
	if err == nil || errors.As(err, &revert) {
		return err
	}
	return &marketplace.RevertError{Reason: err.Error()}
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}
