package connection

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Client is the chain access used by contract bindings, reconciliation and sagas.
type Client interface {
	// Account is the address transactions are sent from.
	Account() common.Address
	// Call executes a read-only contract call against the latest block.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// SendTransaction signs and submits a write, returning its hash.
	SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error)
	// GetReceipt returns (nil, nil) while the transaction is not yet indexed.
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// GetLogs returns the receipt's logs in emission order.
	GetLogs(receipt *types.Receipt) []types.Log
}

// LogSource is what the marketplace monitor needs from a node.
type LogSource interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxRequest describes a contract write.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// IsAbsent reports whether a call result means "nothing stored": an empty
// result or one made only of zero bytes.
func IsAbsent(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// ReceiptLogs returns the receipt's logs in emission order.
func ReceiptLogs(receipt *types.Receipt) []types.Log {
	if receipt == nil {
		return nil
	}
	logs := make([]types.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l != nil {
			logs = append(logs, *l)
		}
	}
	return logs
}

// ChainClient implements Client on top of a ConnectionManager.
type ChainClient struct {
	manager Manager
	signer  Signer
	chainID *big.Int
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	// sendMu serializes nonce lookup and submission for the signer.
	sendMu sync.Mutex
}

// NewChainClient creates a client. signer may be nil for read-only use; chainID
// may be nil, in which case it is fetched from the node on the first send.
func NewChainClient(manager Manager, signer Signer, chainID *big.Int, metricsManager *metrics.Manager) *ChainClient {
	return &ChainClient{
		manager: manager,
		signer:  signer,
		chainID: chainID,
		metrics: metricsManager.GetPrometheusMetrics(),
		logger:  utils.ComponentLogger("chain_client"),
	}
}

// Account returns the signer address, or the zero address without a signer.
func (c *ChainClient) Account() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// Call executes eth_call against the latest block.
func (c *ChainClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	start := time.Now()
	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		c.metrics.RecordRPCRequest("eth_call", "error", time.Since(start))
		return nil, err
	}

	msg := ethereum.CallMsg{From: c.Account(), To: &to, Data: data}
	raw, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		c.metrics.RecordRPCRequest("eth_call", "error", time.Since(start))
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "eth_call failed", err)
	}

	c.metrics.RecordRPCRequest("eth_call", "success", time.Since(start))
	return raw, nil
}

// SendTransaction estimates, signs and submits a transaction. Gas estimation runs
// even when a gas limit is given so that reverts surface with their reason
// before anything is broadcast.
func (c *ChainClient) SendTransaction(ctx context.Context, req *TxRequest) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, utils.NewAppError(utils.ErrCodeConfiguration, "No signer configured")
	}

	start := time.Now()
	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		c.metrics.RecordTransactionSent("error")
		return common.Hash{}, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.chainID == nil {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			c.metrics.RecordTransactionSent("error")
			return common.Hash{}, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get chain ID", err)
		}
		c.chainID = chainID
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	from := c.signer.Address()

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		c.metrics.RecordTransactionSent("error")
		return common.Hash{}, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get nonce", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		c.metrics.RecordTransactionSent("error")
		return common.Hash{}, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get gas price", err)
	}

	to := req.To
	estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     req.Data,
	})
	if err != nil {
		c.metrics.RecordTransactionSent("rejected")
		return common.Hash{}, utils.WrapError(utils.ErrCodeBlockchain, "Transaction would fail", err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = estimated + estimated/5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		c.metrics.RecordTransactionSent("rejected")
		return common.Hash{}, err
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		c.metrics.RecordTransactionSent("error")
		return common.Hash{}, utils.WrapError(utils.ErrCodeBlockchain, "Failed to send transaction", err)
	}

	c.metrics.RecordTransactionSent("sent")
	c.metrics.RecordRPCRequest("eth_sendRawTransaction", "success", time.Since(start))
	c.logger.WithFields(logrus.Fields{
		"tx_hash": signed.Hash().Hex(),
		"to":      to.Hex(),
		"nonce":   nonce,
		"gas":     gasLimit,
	}).Info("Transaction submitted")

	return signed.Hash(), nil
}

// GetReceipt fetches a receipt. A receipt the node does not know yet is (nil, nil);
// every other failure is a hard error.
func (c *ChainClient) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		c.metrics.RecordRPCRequest("eth_getTransactionReceipt", "pending", time.Since(start))
		return nil, nil
	}
	if err != nil {
		c.metrics.RecordRPCRequest("eth_getTransactionReceipt", "error", time.Since(start))
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get transaction receipt", err)
	}

	c.metrics.RecordRPCRequest("eth_getTransactionReceipt", "success", time.Since(start))
	return receipt, nil
}

// GetLogs returns the receipt's logs in emission order.
func (c *ChainClient) GetLogs(receipt *types.Receipt) []types.Log {
	return ReceiptLogs(receipt)
}

// FilterLogs runs eth_getLogs
func (c *ChainClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	client, err := c.manager.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		c.metrics.RecordRPCRequest("eth_getLogs", "error", time.Since(start))
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to filter logs", err)
	}

	c.metrics.RecordRPCRequest("eth_getLogs", "success", time.Since(start))
	c.logger.WithField("count", len(logs)).Debug("Filtered logs")
	return logs, nil
}

// BlockNumber returns the chain head
func (c *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.manager.GetLatestBlockNumber(ctx)
}
