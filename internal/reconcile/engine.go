// Package reconcile recovers identifiers created by a transaction (listing ids,
// deployed agent contracts, minted token ids) from its receipt.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Method records how an identifier was obtained.
type Method string

const (
	MethodEvent          Method = "event"
	MethodFirstLog       Method = "first_log"
	MethodTopicHeuristic Method = "topic_heuristic"
	MethodContractView   Method = "contract_view"
	MethodUnknown        Method = "unknown"
)

// Heuristic reports whether the method is a best-effort guess rather than a decoded event.
func (m Method) Heuristic() bool {
	return m == MethodFirstLog || m == MethodTopicHeuristic || m == MethodContractView
}

var (
	// ErrReceiptTimeout means polling gave up before the node returned a receipt.
	ErrReceiptTimeout = errors.New("network timeout: transaction receipt not available")
	// ErrTransactionReverted means the receipt reports a failed execution.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// ReceiptSource provides receipts and their logs.
type ReceiptSource interface {
	GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	GetLogs(receipt *types.Receipt) []types.Log
}

// ListingCounter reads the marketplace's next listing id.
type ListingCounter interface {
	NextListingID(ctx context.Context) (uint64, error)
}

// AgentRegistry reads the factory's list of deployed agent contracts.
type AgentRegistry interface {
	Address() common.Address
	TotalAgents(ctx context.Context) (uint64, error)
	AgentAt(ctx context.Context, index uint64) (common.Address, error)
}

// Config controls receipt polling and the topic heuristic.
type Config struct {
	ReceiptAttempts int
	ReceiptDelay    time.Duration
	// MaxPlausibleID is the exclusive upper bound of the topic heuristic.
	MaxPlausibleID uint64
}

// DefaultConfig polls four times, five seconds apart.
func DefaultConfig() Config {
	return Config{ReceiptAttempts: 4, ReceiptDelay: 5 * time.Second, MaxPlausibleID: 1_000_000}
}

// ListingResult is the outcome of recovering a listing id.
type ListingResult struct {
	ListingID uint64         `json:"listingId"`
	Method    Method         `json:"method"`
	Signature string         `json:"signature,omitempty"`
	TxHash    common.Hash    `json:"txHash"`
	Receipt   *types.Receipt `json:"-"`
}

// Known reports whether an id was recovered.
func (r *ListingResult) Known() bool {
	return r.Method != MethodUnknown && r.ListingID != models.ListingIDUnknown
}

// ContractResult is the outcome of recovering a deployed contract address.
type ContractResult struct {
	Address   common.Address `json:"-"`
	Method    Method         `json:"method"`
	Signature string         `json:"signature,omitempty"`
	TxHash    common.Hash    `json:"txHash"`
	Receipt   *types.Receipt `json:"-"`
}

// Known reports whether an address was recovered.
func (r *ContractResult) Known() bool {
	return r.Method != MethodUnknown && r.Address != (common.Address{})
}

// Hex returns the address lowercased, or "" when unknown.
func (r *ContractResult) Hex() string {
	if !r.Known() {
		return ""
	}
	return utils.AddressHex(r.Address)
}

// Option configures an Engine.
type Option func(*Engine)

// WithListingCounter enables the nextListingId view fallback.
func WithListingCounter(c ListingCounter) Option {
	return func(e *Engine) { e.listings = c }
}

// WithAgentRegistry enables the getTotalAgents/getAgentAt view fallback.
func WithAgentRegistry(r AgentRegistry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithSignatures replaces the listing and agent-created signature tables.
func WithSignatures(listing, agentCreated SignatureTable) Option {
	return func(e *Engine) {
		e.listingSigs = listing
		e.agentSigs = agentCreated
	}
}

// Engine recovers identifiers from transaction receipts.
type Engine struct {
	source      ReceiptSource
	listings    ListingCounter
	registry    AgentRegistry
	cfg         Config
	listingSigs SignatureTable
	agentSigs   SignatureTable
	metrics     *metrics.PrometheusMetrics
	logger      *logrus.Entry
}

// NewEngine creates an engine reading receipts from source.
func NewEngine(source ReceiptSource, cfg Config, metricsManager *metrics.Manager, opts ...Option) *Engine {
	if cfg.ReceiptAttempts <= 0 {
		cfg.ReceiptAttempts = 1
	}
	if cfg.MaxPlausibleID == 0 {
		cfg.MaxPlausibleID = DefaultConfig().MaxPlausibleID
	}

	e := &Engine{
		source:      source,
		cfg:         cfg,
		listingSigs: ListingSignatures,
		agentSigs:   AgentCreatedSignatures,
		metrics:     metricsManager.GetPrometheusMetrics(),
		logger:      utils.ComponentLogger("reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WaitReceipt polls for a receipt with a fixed delay between attempts. Running
// out of attempts is not an error: it returns (nil, nil). RPC errors return at once.
func (e *Engine) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for attempt := 1; attempt <= e.cfg.ReceiptAttempts; attempt++ {
		receipt, err := e.source.GetReceipt(ctx, txHash)
		if err != nil {
			e.metrics.RecordReceiptPoll("error")
			return nil, err
		}
		if receipt != nil {
			e.metrics.RecordReceiptPoll("found")
			return receipt, nil
		}

		e.metrics.RecordReceiptPoll("pending")
		e.logger.WithFields(logrus.Fields{
			"tx_hash": txHash.Hex(),
			"attempt": attempt,
		}).Debug("Receipt not available yet")

		if attempt < e.cfg.ReceiptAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.ReceiptDelay):
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"tx_hash":  txHash.Hex(),
		"attempts": e.cfg.ReceiptAttempts,
	}).Warn("Receipt polling exhausted")
	return nil, nil
}

// WaitConfirmed requires a successful receipt, turning exhaustion into ErrReceiptTimeout.
func (e *Engine) WaitConfirmed(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := e.WaitReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("%w after %d attempts (tx %s)", ErrReceiptTimeout, e.cfg.ReceiptAttempts, txHash.Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w (tx %s)", ErrTransactionReverted, txHash.Hex())
	}
	return receipt, nil
}

// RecoverListingID finds the listing id created by a list transaction. Only a
// reverted transaction or a cancelled context produce an error; every other
// failure degrades to a fallback or to MethodUnknown.
func (e *Engine) RecoverListingID(ctx context.Context, txHash common.Hash) (*ListingResult, error) {
	receipt, err := e.WaitReceipt(ctx, txHash)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		e.logger.WithError(err).WithField("tx_hash", txHash.Hex()).Warn("Receipt lookup failed, trying contract view")
	}
	if err != nil || receipt == nil {
		return e.listingFromView(ctx, &ListingResult{TxHash: txHash, Method: MethodUnknown}), nil
	}
	return e.ListingFromReceipt(ctx, receipt)
}

// ListingFromReceipt decodes a listing id from an already fetched receipt.
func (e *Engine) ListingFromReceipt(ctx context.Context, receipt *types.Receipt) (*ListingResult, error) {
	result := &ListingResult{TxHash: receipt.TxHash, Receipt: receipt, Method: MethodUnknown}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("%w (tx %s)", ErrTransactionReverted, receipt.TxHash.Hex())
	}

	logs := e.source.GetLogs(receipt)
	if len(logs) == 0 {
		// nothing was emitted, so any id would be invented
		return e.finishListing(result), nil
	}

	for _, log := range logs {
		sig, ok := e.listingSigs.Lookup(topic0(log))
		if !ok || len(log.Topics) < 2 {
			continue
		}
		if id, ok := smallUint(log.Topics[1], 0); ok {
			result.ListingID = id
			result.Method = MethodEvent
			result.Signature = sig.Label
			return e.finishListing(result), nil
		}
	}

	if id, ok := plausibleTopic(logs, e.cfg.MaxPlausibleID); ok {
		result.ListingID = id
		result.Method = MethodTopicHeuristic
		return e.finishListing(result), nil
	}

	return e.listingFromView(ctx, result), nil
}

func (e *Engine) listingFromView(ctx context.Context, result *ListingResult) *ListingResult {
	if e.listings != nil {
		next, err := e.listings.NextListingID(ctx)
		switch {
		case err != nil:
			e.logger.WithError(err).Warn("nextListingId view failed")
		case next > 1:
			result.ListingID = next - 1
			result.Method = MethodContractView
		}
	}
	return e.finishListing(result)
}

func (e *Engine) finishListing(result *ListingResult) *ListingResult {
	if result.Method == MethodUnknown {
		result.ListingID = models.ListingIDUnknown
	}
	e.metrics.RecordReconciliation("listing", string(result.Method))

	log := e.logger.WithFields(logrus.Fields{
		"tx_hash":    result.TxHash.Hex(),
		"listing_id": result.ListingID,
		"method":     result.Method,
	})
	switch {
	case result.Method == MethodUnknown:
		log.Warn("Listing id could not be recovered, manual reconciliation required")
	case result.Method.Heuristic():
		log.Warn("Listing id recovered heuristically")
	default:
		log.WithField("signature", result.Signature).Info("Listing id recovered from event")
	}
	return result
}

// RecoverContractAddress finds the agent contract deployed by a createAgent transaction.
func (e *Engine) RecoverContractAddress(ctx context.Context, txHash common.Hash) (*ContractResult, error) {
	receipt, err := e.WaitReceipt(ctx, txHash)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		e.logger.WithError(err).WithField("tx_hash", txHash.Hex()).Warn("Receipt lookup failed, trying factory view")
	}
	if err != nil || receipt == nil {
		return e.contractFromRegistry(ctx, &ContractResult{TxHash: txHash, Method: MethodUnknown}), nil
	}
	return e.ContractFromReceipt(ctx, receipt)
}

// ContractFromReceipt decodes the deployed agent contract from a fetched receipt.
func (e *Engine) ContractFromReceipt(ctx context.Context, receipt *types.Receipt) (*ContractResult, error) {
	result := &ContractResult{TxHash: receipt.TxHash, Receipt: receipt, Method: MethodUnknown}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("%w (tx %s)", ErrTransactionReverted, receipt.TxHash.Hex())
	}

	logs := e.source.GetLogs(receipt)
	if len(logs) == 0 {
		return e.finishContract(result), nil
	}

	for _, log := range logs {
		sig, ok := e.agentSigs.Lookup(topic0(log))
		if !ok || len(log.Topics) < 2 {
			continue
		}
		if addr := common.BytesToAddress(log.Topics[1].Bytes()); addr != (common.Address{}) {
			result.Address = addr
			result.Method = MethodEvent
			result.Signature = sig.Label
			return e.finishContract(result), nil
		}
	}

	// The agent contract's constructor logs come before the factory's event,
	// so with two or more logs the first one is emitted by the new contract.
	if len(logs) >= 2 && logs[0].Address != (common.Address{}) && !e.isFactory(logs[0].Address) {
		result.Address = logs[0].Address
		result.Method = MethodFirstLog
		return e.finishContract(result), nil
	}

	return e.contractFromRegistry(ctx, result), nil
}

func (e *Engine) isFactory(addr common.Address) bool {
	return e.registry != nil && e.registry.Address() == addr
}

func (e *Engine) contractFromRegistry(ctx context.Context, result *ContractResult) *ContractResult {
	if e.registry == nil {
		return e.finishContract(result)
	}

	total, err := e.registry.TotalAgents(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("getTotalAgents view failed")
		return e.finishContract(result)
	}
	if total == 0 {
		return e.finishContract(result)
	}

	addr, err := e.registry.AgentAt(ctx, total-1)
	if err != nil {
		e.logger.WithError(err).Warn("getAgentAt view failed")
		return e.finishContract(result)
	}
	if addr != (common.Address{}) {
		result.Address = addr
		result.Method = MethodContractView
	}
	return e.finishContract(result)
}

func (e *Engine) finishContract(result *ContractResult) *ContractResult {
	if result.Method == MethodUnknown {
		result.Address = common.Address{}
	}
	e.metrics.RecordReconciliation("contract", string(result.Method))

	log := e.logger.WithFields(logrus.Fields{
		"tx_hash": result.TxHash.Hex(),
		"address": result.Hex(),
		"method":  result.Method,
	})
	switch {
	case result.Method == MethodUnknown:
		log.Warn("Agent contract could not be recovered, manual reconciliation required")
	case result.Method.Heuristic():
		log.Warn("Agent contract recovered heuristically")
	default:
		log.Info("Agent contract recovered from event")
	}
	return result
}

// TokenIDFromLogs returns the token id of the first ERC-721 mint (Transfer from
// the zero address) in logs.
func TokenIDFromLogs(logs []types.Log) (*big.Int, bool) {
	for _, log := range logs {
		if topic0(log) != contracts.TransferTopic || len(log.Topics) != 4 {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) == (common.Address{}) {
			return log.Topics[3].Big(), true
		}
	}
	return nil, false
}

// plausibleTopic returns the first indexed value in (0, max) across all logs.
// Collisions with unrelated numeric topics are possible.
func plausibleTopic(logs []types.Log, max uint64) (uint64, bool) {
	for _, log := range logs {
		for i := 1; i < len(log.Topics); i++ {
			if id, ok := smallUint(log.Topics[i], max); ok {
				return id, true
			}
		}
	}
	return 0, false
}

// smallUint decodes a topic as a positive integer, below max when max > 0.
func smallUint(topic common.Hash, max uint64) (uint64, bool) {
	v := topic.Big()
	if v.Sign() <= 0 || !v.IsUint64() {
		return 0, false
	}
	if max > 0 && v.Uint64() >= max {
		return 0, false
	}
	return v.Uint64(), true
}

func topic0(log types.Log) common.Hash {
	if len(log.Topics) == 0 {
		return common.Hash{}
	}
	return log.Topics[0]
}

// Describe renders a result for operators.
func Describe(kind string, method Method, value string, txHash common.Hash) string {
	if method == MethodUnknown {
		return fmt.Sprintf("%s unknown for tx %s, check the transaction manually", kind, txHash.Hex())
	}
	return fmt.Sprintf("%s %s recovered via %s from tx %s", kind, strings.ToLower(value), method, txHash.Hex())
}
