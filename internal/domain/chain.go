package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StateReader exposes the on-chain reads the orchestration engine depends on.
// Every read is parameterized by the owning client's chain id; implementations
// must never fall back to a default chain. Reads are server-of-truth: callers
// treat cached copies as possibly stale and re-read before acting.
type StateReader interface {
	// Allowance returns the classic ERC20 allowance of spender over owner's token.
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)

	// PermitAllowance returns the router's packed (amount, expiration, nonce)
	// record for the (owner, token, spender) triple.
	PermitAllowance(ctx context.Context, owner, token, spender common.Address) (PermitAllowance, error)

	// IsAuthorized returns whether authorized may act on authorizer's positions.
	IsAuthorized(ctx context.Context, authorizer, authorized common.Address) (bool, error)

	// AuthorizationNonce returns the account's current authorization replay nonce.
	AuthorizationNonce(ctx context.Context, account common.Address) (*big.Int, error)

	// MarketLiquidity returns the instantaneous borrowable liquidity of a market.
	MarketLiquidity(ctx context.Context, market MarketParams) (*big.Int, error)

	// Position returns the account's position in a market.
	Position(ctx context.Context, market MarketParams, account common.Address) (Position, error)
}

// TypedSigner signs a 32-byte EIP-712 digest and returns a 65-byte r||s||v
// signature. The engine builds the digests; it never holds key material
// beyond this interface.
type TypedSigner interface {
	Account() common.Address
	SignDigest(digest []byte) ([]byte, error)
}

// TxRequest is an opaque transaction hand-off to the submission layer.
type TxRequest struct {
	To      common.Address
	Data    []byte
	Value   *big.Int
	Gas     uint64
	ChainID *big.Int
}

// Submitter submits transactions and, when a flow needs on-chain confirmation
// before proceeding, waits for a receipt.
type Submitter interface {
	Submit(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) error
}
