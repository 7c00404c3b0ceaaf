package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
)

// RepayParams describes one repay intent. Exactly one of Assets or Shares is
// set: assets for a partial repayment, shares to close the debt completely
// without leaving interest dust.
type RepayParams struct {
	Market domain.MarketParams
	Assets *big.Int // exact-assets path
	Shares *big.Int // exact-shares path (full close)
	// PullAmount is what the funds-pull must cover. On the shares path the
	// caller over-provisions slightly for interest accrued between quote and
	// execution; the sweep-free repay refunds the surplus on-chain.
	PullAmount *big.Int
	Native     bool
	Symbol     string
}

// Repay pays down the account's debt in one atomic batch. Repaying pushes
// funds toward the protocol, so no bundler authorization is needed.
func (e *Engine) Repay(ctx context.Context, p RepayParams) (domain.TxRecord, error) {
	if err := checkMarket(p.Market); err != nil {
		return domain.TxRecord{}, err
	}
	byAssets := p.Assets != nil && p.Assets.Sign() > 0
	byShares := p.Shares != nil && p.Shares.Sign() > 0
	if byAssets == byShares {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: repay needs exactly one of assets or shares", domain.ErrZeroAmount)
	}
	if err := checkAmount(p.PullAmount); err != nil {
		return domain.TxRecord{}, err
	}

	variant, err := e.resolveVariant(ctx, domain.FlowRepay, p.Market.LoanToken, p.PullAmount, p.Native)
	if err != nil {
		return domain.TxRecord{}, err
	}

	amount := p.Assets
	if byShares {
		amount = p.Shares
	}

	plan := Plan{
		Flow:    domain.FlowRepay,
		Token:   p.Market.LoanToken,
		Amount:  p.PullAmount,
		Variant: variant,
		Steps:   Sequence(domain.FlowRepay, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      amount.String(),
			MarketID:    p.Market.ID().Hex(),
			Title:       fmt.Sprintf("Repay %s", p.Symbol),
			Description: "Repay outstanding debt",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			set := CallSet{
				Pull: e.pull(variant, p.Market.LoanToken, p.PullAmount),
				Ops:  []domain.Call{e.enc.Repay(p.Market, p.Assets, p.Shares, e.account)},
			}
			if variant.Native {
				wrap := e.enc.WrapNative(p.PullAmount)
				set.Wrap = &wrap
			}
			return set, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
