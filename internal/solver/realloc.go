// Package solver computes the extra calls a flow needs beyond its core
// operation: cross-market liquidity sourcing for oversized borrows, and the
// signed per-market deltas of a smart rebalance.
package solver

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// feeDenominator is the basis-point scale used for all solver fees.
const feeDenominator = 10_000

// ReallocationSolver sources liquidity for a borrow that exceeds the target
// market's instantaneous liquidity. The sourcing fee is always denominated in
// the moved asset and embedded in the reallocation accounting, never added to
// the batch's native value.
type ReallocationSolver struct {
	enc     *encoder.Encoder
	vault   common.Address
	sources []domain.LiquiditySource
	feeBps  int64
}

func NewReallocationSolver(enc *encoder.Encoder, vault common.Address, sources []domain.LiquiditySource, feeBps int64) *ReallocationSolver {
	// Largest idle first, so a shortfall touches the fewest markets.
	sorted := make([]domain.LiquiditySource, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Idle.Cmp(sorted[j].Idle) > 0
	})
	return &ReallocationSolver{enc: enc, vault: vault, sources: sorted, feeBps: feeBps}
}

// CanSource reports whether the known reallocatable sources fully cover the
// shortfall.
func (s *ReallocationSolver) CanSource(shortfall *big.Int) bool {
	total := new(big.Int)
	for _, src := range s.sources {
		total.Add(total, src.Idle)
	}
	return total.Cmp(shortfall) >= 0
}

// Compute selects sources summing to at least the shortfall and returns the
// encoded reallocation call plus the asset-denominated sourcing fee. The call
// must be prepended to the batch: a reallocation after the borrow is a no-op.
func (s *ReallocationSolver) Compute(shortfall *big.Int) (domain.Call, *big.Int, error) {
	if shortfall == nil || shortfall.Sign() <= 0 {
		return domain.Call{}, nil, fmt.Errorf("solver: shortfall must be positive")
	}
	if !s.CanSource(shortfall) {
		return domain.Call{}, nil, fmt.Errorf("solver: %w: shortfall %s exceeds reallocatable liquidity", domain.ErrInsufficientLiquidity, shortfall)
	}

	remaining := new(big.Int).Set(shortfall)
	var withdrawals []encoder.Reallocation
	for _, src := range s.sources {
		if remaining.Sign() <= 0 {
			break
		}
		take := new(big.Int).Set(src.Idle)
		if take.Cmp(remaining) > 0 {
			take.Set(remaining)
		}
		withdrawals = append(withdrawals, encoder.Reallocation{Market: src.Market, Assets: take})
		remaining.Sub(remaining, take)
	}

	fee := new(big.Int).Mul(shortfall, big.NewInt(s.feeBps))
	fee.Div(fee, big.NewInt(feeDenominator))

	return s.enc.ReallocateTo(s.vault, withdrawals), fee, nil
}
