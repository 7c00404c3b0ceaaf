package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MarketParams is the immutable identity of one isolated lending market.
// Two MarketParams values address the same market iff every field matches;
// ID() gives the canonical 32-byte market id used to key on-chain calls.
type MarketParams struct {
	LoanToken       common.Address
	CollateralToken common.Address
	Oracle          common.Address
	IRM             common.Address
	LLTV            *big.Int // WAD-scaled liquidation loan-to-value
}

// ID returns keccak256 of the abi-encoded params tuple, matching the id the
// protocol contract derives for the market.
func (m MarketParams) ID() common.Hash {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, common.LeftPadBytes(m.LoanToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(m.CollateralToken.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(m.Oracle.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(m.IRM.Bytes(), 32)...)
	lltv := m.LLTV
	if lltv == nil {
		lltv = new(big.Int)
	}
	buf = append(buf, common.LeftPadBytes(lltv.Bytes(), 32)...)
	return common.BytesToHash(ethcrypto.Keccak256(buf))
}

// Position is a user's read-modeled state in one market. It is never mutated
// locally; only confirmed on-chain operations change it.
type Position struct {
	SupplyShares *big.Int
	BorrowShares *big.Int
	BorrowAssets *big.Int
	Collateral   *big.Int
}

// PermitAllowance is the router's packed per-(owner, token, spender) allowance
// record: amount is uint160, expiration and nonce are uint48 on-chain.
type PermitAllowance struct {
	Amount     *big.Int
	Expiration int64
	Nonce      uint64
}

// LiquiditySource describes idle liquidity sitting in a sibling vault that can
// be reallocated into a target market.
type LiquiditySource struct {
	Vault  common.Address
	Market MarketParams
	Idle   *big.Int
}
