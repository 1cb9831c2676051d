package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// GenerateID returns a random identifier with the given prefix.
func GenerateID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// GenerateAgentID builds an agent id of the form agent-<unix ms>-<8 hex>.
func GenerateAgentID(now time.Time) string {
	return fmt.Sprintf("agent-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// IsValidAddress checks if a string is a valid Ethereum address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress normalizes an address to lowercase with 0x prefix
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		address = "0x" + address
	}
	return strings.ToLower(address)
}

// AddressHex returns the lowercase hex form of addr.
func AddressHex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// SameAddress compares two address strings case-insensitively.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// GetEventSignature returns the keccak256 hash of an event signature
func GetEventSignature(signature string) string {
	return crypto.Keccak256Hash([]byte(signature)).Hex()
}

// MethodSelector returns the 4-byte selector of a function signature such as "buy(uint256)".
func MethodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}
