package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/authz"
	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
	"github.com/openlend/lenderd/internal/solver"
)

// Engine exposes one method per user intent. Each method validates its
// parameters, resolves the operation's variant from current chain state,
// and hands a fully-specified plan to the shared driver.
type Engine struct {
	driver      *Driver
	reader      domain.StateReader
	allowances  *authz.AllowanceResolver
	permits     *authz.PermitProvider
	bundlerAuth *authz.BundlerAuthProvider
	enc         *encoder.Encoder
	realloc     *solver.ReallocationSolver // optional
	rebalance   *solver.RebalanceSolver

	account       common.Address
	usePermit     bool
	wrappedNative common.Address
	logger        *slog.Logger
}

// EngineConfig bundles the engine's collaborators.
type EngineConfig struct {
	Driver        *Driver
	Reader        domain.StateReader
	Allowances    *authz.AllowanceResolver
	Permits       *authz.PermitProvider
	BundlerAuth   *authz.BundlerAuthProvider
	Encoder       *encoder.Encoder
	Realloc       *solver.ReallocationSolver
	Rebalance     *solver.RebalanceSolver
	Account       common.Address
	UsePermit     bool
	WrappedNative common.Address
}

func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	return &Engine{
		driver:        cfg.Driver,
		reader:        cfg.Reader,
		allowances:    cfg.Allowances,
		permits:       cfg.Permits,
		bundlerAuth:   cfg.BundlerAuth,
		enc:           cfg.Encoder,
		realloc:       cfg.Realloc,
		rebalance:     cfg.Rebalance,
		account:       cfg.Account,
		usePermit:     cfg.UsePermit,
		wrappedNative: cfg.WrappedNative,
		logger:        logger.With(slog.String("component", "engine")),
	}
}

// resolveVariant reads current authorization state and fixes the operation's
// shape once. Everything downstream branches on the returned value, never on
// fresh reads, so the planned steps and the executed steps cannot diverge.
func (e *Engine) resolveVariant(ctx context.Context, flow domain.FlowType, token common.Address, amount *big.Int, native bool) (Variant, error) {
	v := Variant{Native: native, UsePermit: e.usePermit}

	if needsBundlerAuth[flow] {
		switch e.bundlerAuth.Status(ctx) {
		case authz.AuthGranted:
			v.BundlerAuthorized = true
		case authz.AuthRevoked:
			v.BundlerAuthorized = false
		default:
			// Unknown must not be treated as unauthorized: signing a
			// redundant authorization would burn the account's nonce.
			return Variant{}, fmt.Errorf("flow: %w: bundler authorization unread", domain.ErrAuthzNotReady)
		}
	}

	v.PullsFunds = amount != nil && amount.Sign() > 0
	if v.PullsFunds && !native {
		if e.usePermit {
			v.TokenApproved = e.permits.IsPermitAuthorized(ctx, token, amount)
		} else {
			allowance := e.allowances.GetAllowance(ctx, token, e.account, e.enc.Bundler)
			v.TokenApproved = allowance.Cmp(amount) >= 0
		}
	}

	return v, nil
}

// pull builds the funds-pull call matching the variant's approval path.
func (e *Engine) pull(v Variant, token common.Address, amount *big.Int) *domain.Call {
	if v.Native || amount == nil || amount.Sign() == 0 {
		return nil
	}
	var call domain.Call
	if v.UsePermit {
		call = e.enc.TransferFrom2(token, amount)
	} else {
		call = e.enc.ERC20TransferFrom(token, amount)
	}
	return &call
}

// checkMarket rejects a market whose identity is incomplete.
func checkMarket(m domain.MarketParams) error {
	if m.LoanToken == (common.Address{}) || m.LLTV == nil {
		return fmt.Errorf("flow: %w: market params incomplete", domain.ErrMarketDataMissing)
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	return nil
}
