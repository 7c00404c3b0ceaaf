package domain

import "math/big"

// MarketDelta is a signed per-market asset movement produced by the rebalance
// solver: negative assets mean "withdraw this much", positive mean "supply
// this much" (gross of fee; the fee deduction happens at call generation).
type MarketDelta struct {
	Market MarketParams
	Assets *big.Int
}

// Withdrawal reports whether the delta moves assets out of its market.
func (d MarketDelta) Withdrawal() bool {
	return d.Assets != nil && d.Assets.Sign() < 0
}

// RebalancePlan is the full output of the rebalance solver. TotalMoved is the
// sum of withdrawal magnitudes; Fee is the protocol fee taken from it. The
// solver guarantees TotalMoved covers all supplies plus Fee, with any rounding
// shortfall recoverable by the trailing sweep call.
type RebalancePlan struct {
	Deltas     []MarketDelta
	TotalMoved *big.Int
	Fee        *big.Int
}
