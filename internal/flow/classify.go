package flow

import (
	"errors"
	"strings"

	"github.com/openlend/lenderd/internal/domain"
)

// ErrorKind buckets a flow failure for surfacing. The tracking record is
// failed in every case; the kind only decides the user-facing message.
type ErrorKind int

const (
	// KindTransport: RPC failure or malformed response; logged in full,
	// shown redacted.
	KindTransport ErrorKind = iota
	// KindUserRejected: the signer declined a prompt; neutral notice, no retry.
	KindUserRejected
	// KindPrecondition: aborted before any signature or transaction.
	KindPrecondition
	// KindAuthzDesync: post-confirmation state mismatch; callers should force
	// a fresh read before retrying.
	KindAuthzDesync
)

// rejectionPhrases are the substrings wallets and RPC providers use for a
// declined signature prompt (EIP-1193 code 4001 and friends).
var rejectionPhrases = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
	"action_rejected",
	"code 4001",
}

// Classify maps an error to its kind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, domain.ErrUserRejected):
		return KindUserRejected
	case errors.Is(err, domain.ErrAuthzDesync):
		return KindAuthzDesync
	case errors.Is(err, domain.ErrNoAccount),
		errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrAuthzNotReady),
		errors.Is(err, domain.ErrMarketDataMissing),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrLockHeld):
		return KindPrecondition
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range rejectionPhrases {
		if strings.Contains(msg, phrase) {
			return KindUserRejected
		}
	}
	return KindTransport
}

// UserMessage renders the redacted, user-facing message for a failure.
// Precondition errors pass through as-is; they are written to be actionable.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindUserRejected:
		return "Signature request was declined."
	case KindAuthzDesync:
		return "Authorization state is out of sync with the chain. Refresh and try again."
	case KindPrecondition:
		switch {
		case errors.Is(err, domain.ErrNoAccount):
			return "Connect your wallet."
		case errors.Is(err, domain.ErrZeroAmount):
			return "Enter an amount greater than zero."
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			return "Not enough liquidity available for this amount."
		case errors.Is(err, domain.ErrLockHeld):
			return "Another operation of this type is already in progress."
		}
		return err.Error()
	default:
		return "Transaction failed. Please try again."
	}
}
