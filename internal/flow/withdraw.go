package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
)

// WithdrawParams describes one withdraw intent. Collateral selects between
// withdrawing posted collateral and withdrawing supplied loan assets.
type WithdrawParams struct {
	Market     domain.MarketParams
	Assets     *big.Int
	Collateral bool
	Symbol     string
}

// Withdraw moves supplied assets or posted collateral back to the account.
// Nothing is pulled from the user, so no approval or permit step appears;
// the bundler authorization is the only possible prerequisite.
func (e *Engine) Withdraw(ctx context.Context, p WithdrawParams) (domain.TxRecord, error) {
	if err := checkAmount(p.Assets); err != nil {
		return domain.TxRecord{}, err
	}
	if err := checkMarket(p.Market); err != nil {
		return domain.TxRecord{}, err
	}

	// No funds leave the wallet, so the variant carries no pull and Sequence
	// emits no approval or permit step.
	variant, err := e.resolveVariant(ctx, domain.FlowWithdraw, p.Market.LoanToken, nil, false)
	if err != nil {
		return domain.TxRecord{}, err
	}

	kind := "supplied assets"
	if p.Collateral {
		kind = "collateral"
	}

	plan := Plan{
		Flow:    domain.FlowWithdraw,
		Amount:  new(big.Int),
		Variant: variant,
		Steps:   Sequence(domain.FlowWithdraw, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      p.Assets.String(),
			MarketID:    p.Market.ID().Hex(),
			Title:       fmt.Sprintf("Withdraw %s %s", p.Assets, p.Symbol),
			Description: "Withdraw " + kind,
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			var op domain.Call
			if p.Collateral {
				op = e.enc.WithdrawCollateral(p.Market, p.Assets, e.account)
			} else {
				op = e.enc.Withdraw(p.Market, p.Assets, e.account)
			}
			return CallSet{Ops: []domain.Call{op}}, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
