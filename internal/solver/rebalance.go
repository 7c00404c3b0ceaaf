package solver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// RebalanceSolver turns a target allocation into signed per-market deltas and
// the ordered withdraw/supply call lists of a smart rebalance. All amount
// arithmetic is integer big.Int; asset amounts never touch floating point.
type RebalanceSolver struct {
	enc          *encoder.Encoder
	feeBps       int64
	feeRecipient common.Address
}

func NewRebalanceSolver(enc *encoder.Encoder, feeBps int64, feeRecipient common.Address) *RebalanceSolver {
	return &RebalanceSolver{enc: enc, feeBps: feeBps, feeRecipient: feeRecipient}
}

// Allocation is a per-market asset amount keyed by the market it sits in.
type Allocation struct {
	Market domain.MarketParams
	Assets *big.Int
}

// ComputePlan diffs the current allocation against the target and produces
// the deltas, the total withdrawn amount, and the protocol fee taken from it.
// The target is computed by an external collaborator; the solver only
// consumes it. Markets whose delta is zero are omitted.
func (s *RebalanceSolver) ComputePlan(current, target []Allocation) (domain.RebalancePlan, error) {
	type entry struct {
		market domain.MarketParams
		assets *big.Int
	}

	byID := make(map[common.Hash]*entry)
	order := make([]common.Hash, 0, len(current)+len(target))

	touch := func(m domain.MarketParams) *entry {
		id := m.ID()
		e, ok := byID[id]
		if !ok {
			e = &entry{market: m, assets: new(big.Int)}
			byID[id] = e
			order = append(order, id)
		}
		return e
	}

	for _, a := range current {
		touch(a.Market).assets.Sub(touch(a.Market).assets, a.Assets)
	}
	for _, a := range target {
		touch(a.Market).assets.Add(touch(a.Market).assets, a.Assets)
	}

	plan := domain.RebalancePlan{TotalMoved: new(big.Int), Fee: new(big.Int)}
	supplied := new(big.Int)
	for _, id := range order {
		e := byID[id]
		if e.assets.Sign() == 0 {
			continue
		}
		plan.Deltas = append(plan.Deltas, domain.MarketDelta{Market: e.market, Assets: e.assets})
		if e.assets.Sign() < 0 {
			plan.TotalMoved.Add(plan.TotalMoved, new(big.Int).Neg(e.assets))
		} else {
			supplied.Add(supplied, e.assets)
		}
	}

	// The withdrawals must fund every supply; the fee comes out of the
	// supplies, so gross supplies beyond totalMoved cannot be funded.
	if supplied.Cmp(plan.TotalMoved) > 0 {
		return domain.RebalancePlan{}, fmt.Errorf("solver: target supplies %s exceed withdrawn %s", supplied, plan.TotalMoved)
	}

	plan.Fee.Mul(plan.TotalMoved, big.NewInt(s.feeBps))
	plan.Fee.Div(plan.Fee, big.NewInt(feeDenominator))
	return plan, nil
}

// RebalanceCalls is the ordered call material of one rebalance. The flow
// layer interleaves the funds-pull between withdraws and supplies; within
// each list order is preserved. Sweep is always last in the batch.
type RebalanceCalls struct {
	Withdraws []domain.Call
	Supplies  []domain.Call
	Sweep     domain.Call
	PullTotal *big.Int // amount the funds-pull must move: totalMoved
	Asset     common.Address
}

// BuildCalls generates the call lists for a plan. Each withdraw uses the
// exact computed amount with unlimited share slippage, never a full-shares
// withdrawal, so a partial withdrawal leaves the remaining shares intact.
// Each supply is reduced by its pro-rata share of the fee, rounded up, so the
// net supplies plus the quoted fee never exceed the withdrawn total; the
// trailing sweep collects the remainder left on the bundler.
func (s *RebalanceSolver) BuildCalls(plan domain.RebalancePlan, asset, onBehalf common.Address) (RebalanceCalls, error) {
	if len(plan.Deltas) == 0 {
		return RebalanceCalls{}, fmt.Errorf("solver: empty rebalance plan")
	}

	out := RebalanceCalls{
		PullTotal: new(big.Int).Set(plan.TotalMoved),
		Asset:     asset,
	}

	bps := big.NewInt(s.feeBps)
	den := big.NewInt(feeDenominator)
	denLess1 := new(big.Int).Sub(den, big.NewInt(1))
	for _, d := range plan.Deltas {
		if d.Withdrawal() {
			// Withdrawals pay out to the owner; the funds-pull between the
			// withdraw and supply phases moves TotalMoved onto the bundler.
			amount := new(big.Int).Neg(d.Assets)
			out.Withdraws = append(out.Withdraws, s.enc.Withdraw(d.Market, amount, onBehalf))
			continue
		}
		// Ceiling division. Flooring each cut can leave the summed cuts below
		// the plan fee, which the sweep then cannot collect.
		cut := new(big.Int).Mul(d.Assets, bps)
		cut.Add(cut, denLess1)
		cut.Div(cut, den)
		net := new(big.Int).Sub(d.Assets, cut)
		out.Supplies = append(out.Supplies, s.enc.Supply(d.Market, net, onBehalf))
	}

	out.Sweep = s.enc.Sweep(asset, s.feeRecipient, encoder.MaxUint256)
	return out, nil
}
