package marketplace

import "errors"

// RevertError is a contract-level rejection. Its message matches what an EVM
// node reports for a require() failure so callers can classify either source.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// Revert reasons raised by the marketplace.
var (
	ErrNotOwner      = &RevertError{Reason: "NOT_OWNER"}
	ErrNotActive     = &RevertError{Reason: "NOT_ACTIVE"}
	ErrBadPrice      = &RevertError{Reason: "BAD_PRICE"}
	ErrNotSeller     = &RevertError{Reason: "NOT_SELLER"}
	ErrAlreadyListed = &RevertError{Reason: "ALREADY_LISTED"}
	ErrNotApproved   = &RevertError{Reason: "NOT_APPROVED"}
)

// RevertReason extracts the reason of a RevertError in err's chain.
func RevertReason(err error) (string, bool) {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason, true
	}
	return "", false
}
