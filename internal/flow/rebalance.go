package flow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/solver"
)

// RebalanceParams describes one smart-rebalance intent. Target is computed by
// an external allocator; the engine only consumes it.
type RebalanceParams struct {
	Asset   common.Address
	Current []solver.Allocation
	Target  []solver.Allocation
	Symbol  string
}

// Rebalance redistributes the account's supplied assets toward the target
// allocation in one atomic batch: withdraws, funds-pull, fee-reduced
// supplies, and a trailing sweep that collects the rounding remainder for
// the fee recipient.
func (e *Engine) Rebalance(ctx context.Context, p RebalanceParams) (domain.TxRecord, error) {
	if p.Asset == (common.Address{}) {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: rebalance asset", domain.ErrMarketDataMissing)
	}
	if len(p.Target) == 0 {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: empty target allocation", domain.ErrMarketDataMissing)
	}

	// The plan is computed before any signature so an unbalanced target
	// fails fast.
	rplan, err := e.rebalance.ComputePlan(p.Current, p.Target)
	if err != nil {
		return domain.TxRecord{}, err
	}
	if rplan.TotalMoved.Sign() == 0 {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: allocations already match target", domain.ErrZeroAmount)
	}

	variant, err := e.resolveVariant(ctx, domain.FlowRebalance, p.Asset, rplan.TotalMoved, false)
	if err != nil {
		return domain.TxRecord{}, err
	}

	plan := Plan{
		Flow:    domain.FlowRebalance,
		Token:   p.Asset,
		Amount:  rplan.TotalMoved,
		Variant: variant,
		Steps:   Sequence(domain.FlowRebalance, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      rplan.TotalMoved.String(),
			Title:       fmt.Sprintf("Rebalance %s across %d markets", p.Symbol, len(rplan.Deltas)),
			Description: "Redistribute supplied assets toward the target allocation",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			calls, err := e.rebalance.BuildCalls(rplan, p.Asset, e.account)
			if err != nil {
				return CallSet{}, err
			}
			return CallSet{
				PrePull: calls.Withdraws,
				Pull:    e.pull(variant, p.Asset, calls.PullTotal),
				Ops:     calls.Supplies,
				Sweep:   &calls.Sweep,
			}, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
