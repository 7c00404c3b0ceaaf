package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrNoAccount             = errors.New("no account connected")
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrUserRejected          = errors.New("signature request rejected")
	ErrAuthzNotReady         = errors.New("authorization state not ready")
	ErrAuthzDesync           = errors.New("authorization not confirmed on-chain")
	ErrInsufficientLiquidity = errors.New("insufficient market liquidity")
	ErrMarketDataMissing     = errors.New("market data missing")
	ErrLockHeld              = errors.New("lock already held")
	ErrSigningFailed         = errors.New("signing failed")
)
