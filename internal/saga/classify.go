package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smartdevs17/inft-marketplace/internal/marketplace"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
)

// Kind is the user-facing category of a saga failure.
type Kind string

const (
	KindUserRejected      Kind = "user_rejected"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindNotActive         Kind = "not_active"
	KindBadPrice          Kind = "bad_price"
	KindNotOwner          Kind = "not_owner"
	KindNotListed         Kind = "not_listed"
	KindSelfPurchase      Kind = "self_purchase"
	KindOutOfGas          Kind = "out_of_gas"
	KindNetworkTimeout    Kind = "network_timeout"
	KindGeneric           Kind = "generic"
)

var messages = map[Kind]string{
	KindUserRejected:      "Transaction was cancelled by user.",
	KindInsufficientFunds: "Insufficient funds in your wallet.",
	KindNotActive:         "This NFT is no longer available for purchase.",
	KindBadPrice:          "Price mismatch. The NFT price may have changed.",
	KindNotOwner:          "You do not own this NFT or have not approved the marketplace.",
	KindNotListed:         "This NFT is not available for purchase.",
	KindSelfPurchase:      "You cannot buy your own NFT.",
	KindOutOfGas:          "Transaction failed due to insufficient gas. The network may be congested. Please try again.",
	KindNetworkTimeout:    "Network timeout. Please check your connection and try again.",
	KindGeneric:           "Transaction failed. Please try again.",
}

// Classification pairs a failure kind with the message shown to the user.
type Classification struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func classification(kind Kind) Classification {
	return Classification{Kind: kind, Message: messages[kind]}
}

// Retryable reports whether resubmitting the same request could succeed.
// Contract reverts and wallet rejections repeat identically.
func (c Classification) Retryable() bool {
	return c.Kind == KindNetworkTimeout || c.Kind == KindOutOfGas || c.Kind == KindGeneric
}

// Classify maps an error from a wallet, node or contract to a Classification.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Class
	}

	if reason, ok := marketplace.RevertReason(err); ok {
		switch reason {
		case marketplace.ErrNotActive.Reason:
			return classification(KindNotActive)
		case marketplace.ErrBadPrice.Reason:
			return classification(KindBadPrice)
		case marketplace.ErrNotOwner.Reason, marketplace.ErrNotApproved.Reason, marketplace.ErrNotSeller.Reason:
			return classification(KindNotOwner)
		}
	}

	if errors.Is(err, reconcile.ErrReceiptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return classification(KindNetworkTimeout)
	}

	// nodes and wallets only expose these as text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"), strings.Contains(msg, "code 4001"), strings.Contains(msg, "code: 4001"):
		return classification(KindUserRejected)
	case strings.Contains(msg, "insufficient funds"):
		return classification(KindInsufficientFunds)
	case strings.Contains(msg, "not_active"):
		return classification(KindNotActive)
	case strings.Contains(msg, "bad_price"):
		return classification(KindBadPrice)
	case strings.Contains(msg, "not_owner"), strings.Contains(msg, "caller is not the owner"):
		return classification(KindNotOwner)
	case strings.Contains(msg, "out of gas"), strings.Contains(msg, "intrinsic gas too low"), strings.Contains(msg, "gas required exceeds"):
		return classification(KindOutOfGas)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return classification(KindNetworkTimeout)
	}
	return classification(KindGeneric)
}

// StepError is a saga failure at a named step. Steps already confirmed on
// chain are left as they are.
type StepError struct {
	Saga  string
	Step  Step
	Class Classification
	// TxHash is the last submitted transaction, if any. It may be unconfirmed.
	TxHash string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s saga failed at %s: %s: %v", e.Saga, e.Step, e.Class.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
