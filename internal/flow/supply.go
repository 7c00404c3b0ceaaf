package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
)

// SupplyParams describes one supply (lend) intent.
type SupplyParams struct {
	Market domain.MarketParams
	Assets *big.Int
	Native bool
	Symbol string
}

// Supply lends the market's loan asset on the account's behalf.
func (e *Engine) Supply(ctx context.Context, p SupplyParams) (domain.TxRecord, error) {
	if err := checkAmount(p.Assets); err != nil {
		return domain.TxRecord{}, err
	}
	if err := checkMarket(p.Market); err != nil {
		return domain.TxRecord{}, err
	}

	variant, err := e.resolveVariant(ctx, domain.FlowSupply, p.Market.LoanToken, p.Assets, p.Native)
	if err != nil {
		return domain.TxRecord{}, err
	}

	plan := Plan{
		Flow:    domain.FlowSupply,
		Token:   p.Market.LoanToken,
		Amount:  p.Assets,
		Variant: variant,
		Steps:   Sequence(domain.FlowSupply, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      p.Assets.String(),
			MarketID:    p.Market.ID().Hex(),
			Title:       fmt.Sprintf("Supply %s %s", p.Assets, p.Symbol),
			Description: "Supply assets to earn interest",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			set := CallSet{
				Pull: e.pull(variant, p.Market.LoanToken, p.Assets),
				Ops:  []domain.Call{e.enc.Supply(p.Market, p.Assets, e.account)},
			}
			if variant.Native {
				wrap := e.enc.WrapNative(p.Assets)
				set.Wrap = &wrap
			}
			return set, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
