// Package authz tracks and raises the three authorization surfaces a flow
// depends on: classic ERC20 allowances, router permits, and the protocol's
// account-level bundler authorization.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// defaultPollInterval is how often a mounted resolver re-reads an allowance
// to pick up approvals submitted elsewhere.
const defaultPollInterval = 10 * time.Second

// AllowanceResolver reads and raises ERC20 allowances. Reads degrade to the
// last cached snapshot (or zero) on transient RPC errors so callers never
// crash on a stale endpoint; the error is logged, not returned.
type AllowanceResolver struct {
	reader    domain.StateReader
	submitter domain.Submitter
	cache     domain.AllowanceCache // optional
	chainID   *big.Int
	interval  time.Duration
	logger    *slog.Logger
}

func NewAllowanceResolver(
	reader domain.StateReader,
	submitter domain.Submitter,
	cache domain.AllowanceCache,
	chainID *big.Int,
	logger *slog.Logger,
) *AllowanceResolver {
	return &AllowanceResolver{
		reader:    reader,
		submitter: submitter,
		cache:     cache,
		chainID:   chainID,
		interval:  defaultPollInterval,
		logger:    logger.With(slog.String("component", "allowance")),
	}
}

func (r *AllowanceResolver) cacheKey(token, owner, spender common.Address) string {
	return fmt.Sprintf("allowance:%s:%s:%s:%s", r.chainID, owner.Hex(), spender.Hex(), token.Hex())
}

// GetAllowance returns the current allowance of spender over owner's token.
// A failed read falls back to the cached snapshot, then to zero.
func (r *AllowanceResolver) GetAllowance(ctx context.Context, token, owner, spender common.Address) *big.Int {
	amount, err := r.reader.Allowance(ctx, token, owner, spender)
	if err == nil {
		r.snapshot(ctx, token, owner, spender, amount)
		return amount
	}

	r.logger.Warn("allowance read failed, using cached value",
		slog.String("token", token.Hex()),
		slog.String("error", err.Error()),
	)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, r.cacheKey(token, owner, spender)); err == nil {
			if v, ok := new(big.Int).SetString(cached, 10); ok {
				return v
			}
		}
	}
	return new(big.Int)
}

func (r *AllowanceResolver) snapshot(ctx context.Context, token, owner, spender common.Address, amount *big.Int) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, r.cacheKey(token, owner, spender), amount.String()); err != nil {
		r.logger.Debug("allowance snapshot failed", slog.String("error", err.Error()))
	}
}

// ApproveUnlimited submits a single approval raising the allowance to the
// maximum representable value, then forces a re-read so the snapshot reflects
// the submitted approval.
func (r *AllowanceResolver) ApproveUnlimited(ctx context.Context, token, owner, spender common.Address) (common.Hash, error) {
	hash, err := r.submitter.Submit(ctx, domain.TxRequest{
		To:      token,
		Data:    encoder.ApproveCalldata(spender, encoder.MaxUint256),
		ChainID: r.chainID,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("authz: approve %s: %w", token.Hex(), err)
	}

	if err := r.submitter.WaitMined(ctx, hash); err != nil {
		return hash, fmt.Errorf("authz: approve confirmation: %w", err)
	}

	r.GetAllowance(ctx, token, owner, spender)
	return hash, nil
}

// Poll re-reads the allowance at a fixed interval until the context is done,
// keeping the snapshot fresh against approvals submitted from elsewhere.
func (r *AllowanceResolver) Poll(ctx context.Context, token, owner, spender common.Address) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.GetAllowance(ctx, token, owner, spender)
		}
	}
}

// SetPollInterval overrides the refresh interval. Must be called before Poll.
func (r *AllowanceResolver) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}
