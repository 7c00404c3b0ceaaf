package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one encoded sub-call destined for the bundler multicall. Value is
// the native currency the sub-call needs forwarded; nil means zero.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// NativeValue returns the call's native value, never nil.
func (c Call) NativeValue() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

// Batch is the final atomic payload handed to the submission layer: one
// multicall body, the summed native value of its sub-calls, and an optional
// gas ceiling.
type Batch struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}
