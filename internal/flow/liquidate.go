package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/domain"
)

// LiquidateParams describes one liquidation intent. Exactly one of
// SeizedAssets or RepaidShares is set; RepayAmount is the loan-asset amount
// the funds-pull must cover to settle the repaid debt.
type LiquidateParams struct {
	Market       domain.MarketParams
	Borrower     common.Address
	SeizedAssets *big.Int
	RepaidShares *big.Int
	RepayAmount  *big.Int
	Symbol       string
}

// Liquidate repays an underwater borrower's debt and seizes collateral in
// one atomic batch. The liquidator pushes funds in, so no bundler
// authorization is required.
func (e *Engine) Liquidate(ctx context.Context, p LiquidateParams) (domain.TxRecord, error) {
	if err := checkMarket(p.Market); err != nil {
		return domain.TxRecord{}, err
	}
	if p.Borrower == (common.Address{}) {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: borrower address", domain.ErrMarketDataMissing)
	}
	bySeized := p.SeizedAssets != nil && p.SeizedAssets.Sign() > 0
	byShares := p.RepaidShares != nil && p.RepaidShares.Sign() > 0
	if bySeized == byShares {
		return domain.TxRecord{}, fmt.Errorf("flow: %w: liquidate needs exactly one of seized assets or repaid shares", domain.ErrZeroAmount)
	}
	if err := checkAmount(p.RepayAmount); err != nil {
		return domain.TxRecord{}, err
	}

	variant, err := e.resolveVariant(ctx, domain.FlowLiquidate, p.Market.LoanToken, p.RepayAmount, false)
	if err != nil {
		return domain.TxRecord{}, err
	}

	plan := Plan{
		Flow:    domain.FlowLiquidate,
		Token:   p.Market.LoanToken,
		Amount:  p.RepayAmount,
		Variant: variant,
		Steps:   Sequence(domain.FlowLiquidate, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      p.RepayAmount.String(),
			MarketID:    p.Market.ID().Hex(),
			Title:       fmt.Sprintf("Liquidate position in %s market", p.Symbol),
			Description: "Repay debt and seize collateral",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			return CallSet{
				Pull: e.pull(variant, p.Market.LoanToken, p.RepayAmount),
				Ops: []domain.Call{
					e.enc.Liquidate(p.Market, p.Borrower, p.SeizedAssets, p.RepaidShares),
				},
			}, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
