package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// WrapParams describes one wrap intent: native currency in, wrapped token
// back to the account.
type WrapParams struct {
	Amount *big.Int
	Symbol string
}

// Wrap converts native currency into its wrapped token. The single-step flow
// still runs through the driver so progress tracking, failure classification,
// and history behave like every other operation.
func (e *Engine) Wrap(ctx context.Context, p WrapParams) (domain.TxRecord, error) {
	if err := checkAmount(p.Amount); err != nil {
		return domain.TxRecord{}, err
	}

	variant := Variant{Native: true, UsePermit: e.usePermit}

	plan := Plan{
		Flow:    domain.FlowWrap,
		Amount:  p.Amount,
		Variant: variant,
		Steps:   Sequence(domain.FlowWrap, variant),
		Meta: domain.RecordMeta{
			Symbol:      p.Symbol,
			Amount:      p.Amount.String(),
			Title:       fmt.Sprintf("Wrap %s %s", p.Amount, p.Symbol),
			Description: "Wrap native currency",
		},
		Build: func(ctx context.Context, a *Artifacts) (CallSet, error) {
			wrap := e.enc.WrapNative(p.Amount)
			// The bundler holds the wrapped balance; sweep it back out.
			sweep := e.enc.Sweep(e.wrappedNative, e.account, encoder.MaxUint256)
			return CallSet{Wrap: &wrap, Sweep: &sweep}, nil
		},
	}

	return e.driver.Run(ctx, plan)
}
