package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorCodes(t *testing.T) {
	err := NewAppError(ErrCodeForbidden, "only the creator can update this agent", "agent-1")
	assert.Equal(t, "FORBIDDEN: only the creator can update this agent (agent-1)", err.Error())
	assert.NotEmpty(t, err.File)
	assert.NotZero(t, err.Line)

	wrapped := fmt.Errorf("update: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeForbidden))
	assert.False(t, IsCode(wrapped, ErrCodeNotFound))
	assert.Equal(t, ErrCodeForbidden, ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := WrapError(ErrCodeDatabase, "create agent failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "database is locked", err.Details)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeAddress("0xABC"))
	assert.Equal(t, "0xabc", NormalizeAddress("ABC"))
	assert.Equal(t, "", NormalizeAddress("  "))
	assert.True(t, SameAddress("0xAbC", "0xabc"))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}

func TestMethodSelector(t *testing.T) {
	// transfer(address,uint256) is the well known ERC-20 selector
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, MethodSelector("transfer(address,uint256)"))
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		GetEventSignature("Transfer(address,address,uint256)"))
}

func TestGenerateAgentID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := GenerateAgentID(now)
	require.Len(t, id, len("agent-1700000000000-")+8)
	assert.Contains(t, id, "agent-1700000000000-")
	assert.NotEqual(t, id, GenerateAgentID(now))
	assert.Contains(t, GenerateID("saga"), "saga-")
}
