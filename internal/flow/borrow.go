package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
)

// BorrowParams describes one borrow intent. Collateral may be zero when the
// position is already collateralized; Native marks collateral arriving as the
// native currency (wrapped inside the batch).
type BorrowParams struct {
	Market     domain.MarketParams
	Collateral *big.Int
	Borrow     *big.Int
	Native     bool
	Symbol     string
}

// Borrow posts collateral (when given) and draws the loan in one atomic
// batch. When the requested amount exceeds the market's instantaneous
// liquidity, the reallocation solver sources the shortfall from sibling
// vaults with a call prepended to the batch; without a solver, or when the
// shortfall is not coverable, the flow aborts before any signature.
func (e *Engine) Borrow(ctx context.Context, p BorrowParams) (domain.TxRecord, error) {
	if err := checkAmount(p.Borrow); err != nil {
		return domain.TxRecord{}, err
	}
	if err := checkMarket(p.Market); err != nil {
		return domain.TxRecord{}, err
	}

	variant, err := e.resolveVariant(ctx, domain.FlowBorrow, p.Market.CollateralToken, p.Collateral, p.Native)
	if err != nil {
		return domain.TxRecord{}, err
	}

	// Liquidity is checked up front so an uncoverable borrow fails before the
	// user signs anything.
	liquidity, err := e.reader.MarketLiquidity(ctx, p.Market)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("flow: liquidity read: %w", err)
	}

	var pre []domain.Call
	if p.Borrow.Cmp(liquidity) > 0 {
		shortfall := new(big.Int).Sub(p.Borrow, liquidity)
		if e.realloc == nil || !e.realloc.CanSource(shortfall) {
			return domain.TxRecord{}, fmt.Errorf("flow: %w: shortfall %s", domain.ErrInsufficientLiquidity, shortfall)
		}
		call, fee, err := e.realloc.Compute(shortfall)
		if err != nil {
			return domain.TxRecord{}, err
		}
		pre = append(pre, call)
		e.logger.Info("borrow needs reallocation",
			slog.String("shortfall", shortfall.String()),
			slog.String("fee", fee.String()),
		)
	}

	plan := Plan{
		Flow:    domain.FlowBorrow,
		Token:   p.Market.CollateralToken,
		Amount:  p.Collateral,
		Variant: variant,
		Steps:   Sequence(domain.FlowBorrow, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      p.Borrow.String(),
			MarketID:    p.Market.ID().Hex(),
			Title:       fmt.Sprintf("Borrow %s %s", p.Borrow, p.Symbol),
			Description: "Post collateral and borrow in one transaction",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			set := CallSet{Pre: pre, Pull: e.pull(variant, p.Market.CollateralToken, p.Collateral)}
			if p.Collateral != nil && p.Collateral.Sign() > 0 {
				set.Ops = append(set.Ops, e.enc.SupplyCollateral(p.Market, p.Collateral, e.account))
				if variant.Native {
					wrap := e.enc.WrapNative(p.Collateral)
					set.Wrap = &wrap
				}
			}
			set.Ops = append(set.Ops, e.enc.Borrow(p.Market, p.Borrow, e.account))
			return set, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
