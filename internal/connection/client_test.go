package connection

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/inft-marketplace/internal/config"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well known development key (hardhat account #0).
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestClient(t *testing.T, node *fakeNode, signer Signer) *ChainClient {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	cfg := &config.ChainConfig{
		NodeURL:        node.server.URL,
		ChainID:        16601,
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  1,
	}
	manager := NewConnectionManager(cfg, nil)
	t.Cleanup(func() { manager.Close() })
	return NewChainClient(manager, signer, nil, nil)
}

func TestIsAbsent(t *testing.T) {
	assert.True(t, IsAbsent(nil))
	assert.True(t, IsAbsent([]byte{}))
	assert.True(t, IsAbsent(make([]byte, 32)))
	assert.True(t, IsAbsent(make([]byte, 160)), "an unwritten struct slot is absent too")

	word := make([]byte, 32)
	word[31] = 1
	assert.False(t, IsAbsent(word))
}

func TestGetReceiptPendingVersusError(t *testing.T) {
	node := newFakeNode(t)
	client := newTestClient(t, node, nil)
	ctx := context.Background()

	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, nil
	})
	receipt, err := client.GetReceipt(ctx, common.HexToHash("0x01"))
	require.NoError(t, err, "a missing receipt is not an error")
	assert.Nil(t, receipt)

	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32602, Message: "invalid argument 0: hex string has length 2"}
	})
	receipt, err = client.GetReceipt(ctx, common.HexToHash("0x01"))
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.True(t, utils.IsCode(err, utils.ErrCodeBlockchain))
}

func TestGetReceiptDecodesLogs(t *testing.T) {
	node := newFakeNode(t)
	client := newTestClient(t, node, nil)

	emitter := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		TxHash:            common.HexToHash("0x02"),
		BlockNumber:       big.NewInt(7),
		Logs: []*types.Log{
			{Address: emitter, Topics: []common.Hash{common.HexToHash("0x1111")}, Data: []byte{1}},
			{Address: emitter, Topics: []common.Hash{common.HexToHash("0x2222")}, Data: []byte{2}, Index: 1},
		},
	}
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *rpcError) {
		return receipt, nil
	})

	got, err := client.GetReceipt(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	require.NotNil(t, got)

	logs := client.GetLogs(got)
	require.Len(t, logs, 2)
	assert.Equal(t, common.HexToHash("0x1111"), logs[0].Topics[0])
	assert.Equal(t, common.HexToHash("0x2222"), logs[1].Topics[0])
	assert.Equal(t, emitter, logs[1].Address)
}

func TestCallReturnsRawResult(t *testing.T) {
	node := newFakeNode(t)
	client := newTestClient(t, node, nil)

	node.handle("eth_call", func([]json.RawMessage) (interface{}, *rpcError) {
		return "0x", nil
	})
	raw, err := client.Call(context.Background(), common.HexToAddress("0x01"), []byte{0x3f, 0x26, 0x47, 0x9e})
	require.NoError(t, err)
	assert.True(t, IsAbsent(raw))

	node.handle("eth_call", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: 3, Message: "execution reverted: NOT_ACTIVE"}
	})
	_, err = client.Call(context.Background(), common.HexToAddress("0x01"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_ACTIVE")
}

func TestSendTransactionSignsAndSubmits(t *testing.T) {
	node := newFakeNode(t)
	signer, err := NewKeySigner(testKey)
	require.NoError(t, err)
	client := newTestClient(t, node, signer)

	node.handle("eth_getTransactionCount", func([]json.RawMessage) (interface{}, *rpcError) { return "0x5", nil })
	node.handle("eth_gasPrice", func([]json.RawMessage) (interface{}, *rpcError) { return "0x3b9aca00", nil })
	node.handle("eth_estimateGas", func([]json.RawMessage) (interface{}, *rpcError) { return "0x5208", nil })

	var sent *types.Transaction
	node.handle("eth_sendRawTransaction", func(params []json.RawMessage) (interface{}, *rpcError) {
		var encoded hexutil.Bytes
		if err := json.Unmarshal(params[0], &encoded); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(encoded); err != nil {
			return nil, &rpcError{Code: -32602, Message: err.Error()}
		}
		sent = tx
		return tx.Hash().Hex(), nil
	})

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	hash, err := client.SendTransaction(context.Background(), &TxRequest{
		To:       to,
		Data:     []byte{0xd9, 0x6a, 0x09, 0x4a},
		Value:    big.NewInt(100),
		GasLimit: 500000,
	})
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, sent.Hash(), hash)
	assert.Equal(t, uint64(5), sent.Nonce())
	assert.Equal(t, uint64(500000), sent.Gas())
	assert.Equal(t, int64(100), sent.Value().Int64())
	assert.Equal(t, to, *sent.To())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(16601)), sent)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
	assert.Equal(t, signer.Address(), client.Account())
}

func TestSendTransactionSurfacesRevertReason(t *testing.T) {
	node := newFakeNode(t)
	signer, err := NewKeySigner(testKey)
	require.NoError(t, err)
	client := newTestClient(t, node, signer)

	node.handle("eth_getTransactionCount", func([]json.RawMessage) (interface{}, *rpcError) { return "0x0", nil })
	node.handle("eth_gasPrice", func([]json.RawMessage) (interface{}, *rpcError) { return "0x1", nil })
	node.handle("eth_estimateGas", func([]json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: 3, Message: "execution reverted: BAD_PRICE"}
	})

	_, err = client.SendTransaction(context.Background(), &TxRequest{To: common.HexToAddress("0x01")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD_PRICE")
	assert.Zero(t, node.count("eth_sendRawTransaction"))
}

func TestSendTransactionWithoutSigner(t *testing.T) {
	node := newFakeNode(t)
	client := newTestClient(t, node, nil)

	_, err := client.SendTransaction(context.Background(), &TxRequest{To: common.HexToAddress("0x01")})
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}
