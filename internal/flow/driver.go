package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/authz"
	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
	"github.com/openlend/lenderd/internal/track"
)

// stepDelay is a UI-stabilization pause between signature-producing steps so
// a wallet has time to settle between prompts. Not a correctness requirement.
const stepDelay = 500 * time.Millisecond

// defaultLockTTL bounds how long a crashed flow can hold its per-type lock.
const defaultLockTTL = 5 * time.Minute

// CallSet is the material a concrete flow contributes to the batch. The
// driver assembles the canonical order:
//
//	[Pre (reallocation)] → [authorization sig call] → [permit call] →
//	[PrePull (withdraws)] → [Pull] → [Ops] → [Wrap] → [Sweep]
//
// PrePull exists for the rebalance flow: its withdrawals pay out to the owner
// and must land before the funds-pull that moves them onto the bundler.
type CallSet struct {
	Pre     []domain.Call
	PrePull []domain.Call
	Pull    *domain.Call
	Ops     []domain.Call
	Wrap    *domain.Call
	Sweep   *domain.Call
}

// Artifacts collects the outputs of completed steps for the final assembly.
type Artifacts struct {
	AuthorizationCall *domain.Call
	PermitCall        *domain.Call
	Permit            *authz.SignedPermit
}

// Plan is one fully-resolved operation: the variant-derived step sequence and
// a builder that produces the flow's calls at the execute step.
type Plan struct {
	Flow    domain.FlowType
	Meta    domain.RecordMeta
	Token   common.Address // asset the permit/approval covers; unused when native
	Amount  *big.Int       // amount the funds-pull must cover
	Variant Variant
	Steps   []domain.StepID
	Build   func(ctx context.Context, a *Artifacts) (CallSet, error)
	Gas     uint64
}

// Driver walks a plan's steps in order, keeps the tracking record honest at
// every transition, and submits the assembled batch. It is shared by every
// concrete flow; only validation and call building differ per intent.
type Driver struct {
	tracker     *track.Store
	allowances  *authz.AllowanceResolver
	permits     *authz.PermitProvider
	bundlerAuth *authz.BundlerAuthProvider
	enc         *encoder.Encoder
	submitter   domain.Submitter
	history     domain.HistoryStore // optional
	locks       domain.LockManager  // optional
	account     common.Address
	chainID     *big.Int
	attribution []byte
	delay       time.Duration
	lockTTL     time.Duration
	logger      *slog.Logger
}

// DriverConfig bundles the driver's collaborators.
type DriverConfig struct {
	Tracker     *track.Store
	Allowances  *authz.AllowanceResolver
	Permits     *authz.PermitProvider
	BundlerAuth *authz.BundlerAuthProvider
	Encoder     *encoder.Encoder
	Submitter   domain.Submitter
	History     domain.HistoryStore
	Locks       domain.LockManager
	Account     common.Address
	ChainID     *big.Int
	Attribution []byte
}

func NewDriver(cfg DriverConfig, logger *slog.Logger) *Driver {
	return &Driver{
		tracker:     cfg.Tracker,
		allowances:  cfg.Allowances,
		permits:     cfg.Permits,
		bundlerAuth: cfg.BundlerAuth,
		enc:         cfg.Encoder,
		submitter:   cfg.Submitter,
		history:     cfg.History,
		locks:       cfg.Locks,
		account:     cfg.Account,
		chainID:     cfg.ChainID,
		attribution: cfg.Attribution,
		delay:       stepDelay,
		lockTTL:     defaultLockTTL,
		logger:      logger.With(slog.String("component", "flow")),
	}
}

// SetStepDelay overrides the inter-signature pause. Zero disables it.
func (d *Driver) SetStepDelay(delay time.Duration) { d.delay = delay }

// SetLockTTL overrides how long the per-flow lock is held at most.
func (d *Driver) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		d.lockTTL = ttl
	}
}

// Run executes one plan. Preconditions fail fast before any signature or
// transaction is requested; afterwards, every thrown error fails the tracking
// record before it is re-surfaced, so the record can never be observed stuck
// in pending.
func (d *Driver) Run(ctx context.Context, plan Plan) (domain.TxRecord, error) {
	if d.account == (common.Address{}) {
		return domain.TxRecord{}, domain.ErrNoAccount
	}
	if len(plan.Steps) == 0 || plan.Steps[len(plan.Steps)-1] != domain.StepExecute {
		return domain.TxRecord{}, fmt.Errorf("flow: malformed step sequence for %s", plan.Flow)
	}

	if d.locks != nil {
		key := fmt.Sprintf("flow:%s:%s", d.account.Hex(), plan.Flow)
		ok, err := d.locks.Acquire(ctx, key, d.lockTTL)
		if err != nil {
			d.logger.Warn("lock acquire failed, proceeding unlocked", slog.String("error", err.Error()))
		} else if !ok {
			return domain.TxRecord{}, domain.ErrLockHeld
		} else {
			defer func() {
				if err := d.locks.Release(context.WithoutCancel(ctx), key); err != nil {
					d.logger.Debug("lock release failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	log := d.logger.With(
		slog.String("flow", string(plan.Flow)),
		slog.String("market", plan.Meta.MarketID),
	)
	log.Info("flow started", slog.Any("steps", plan.Steps))

	d.tracker.Start(ctx, plan.Flow, plan.Steps, plan.Meta, plan.Steps[0])

	artifacts := &Artifacts{}
	for i, step := range plan.Steps {
		if i > 0 {
			d.tracker.Update(ctx, plan.Flow, step)
			// Give the wallet a beat between consecutive prompts.
			if d.delay > 0 && producesSignature(plan.Steps[i-1]) && producesSignature(step) {
				select {
				case <-ctx.Done():
					return d.fail(ctx, plan, ctx.Err())
				case <-time.After(d.delay):
				}
			}
		}

		if err := d.runStep(ctx, plan, step, artifacts); err != nil {
			return d.fail(ctx, plan, err)
		}
	}

	rec, _ := d.tracker.Complete(ctx, plan.Flow)
	d.persist(ctx, rec)
	log.Info("flow complete", slog.String("tx", rec.TxHash))
	return rec, nil
}

// producesSignature reports whether a step prompts the wallet.
func producesSignature(step domain.StepID) bool {
	switch step {
	case domain.StepSignPermit, domain.StepAuthorizeBundlerSig,
		domain.StepApprovePermit, domain.StepApproveToken, domain.StepAuthorizeBundlerTx,
		domain.StepExecute:
		return true
	}
	return false
}

func (d *Driver) runStep(ctx context.Context, plan Plan, step domain.StepID, artifacts *Artifacts) error {
	switch step {
	case domain.StepAuthorizeBundlerTx:
		return d.bundlerAuth.AuthorizeViaTransaction(ctx, true)

	case domain.StepAuthorizeBundlerSig:
		call, err := d.bundlerAuth.AuthorizeViaSignature(ctx)
		if err != nil {
			return err
		}
		artifacts.AuthorizationCall = call
		return nil

	case domain.StepApproveToken:
		_, err := d.allowances.ApproveUnlimited(ctx, plan.Token, d.account, d.enc.Bundler)
		return err

	case domain.StepApprovePermit:
		_, err := d.allowances.ApproveUnlimited(ctx, plan.Token, d.account, d.permits.Router())
		return err

	case domain.StepSignPermit:
		signed, err := d.permits.SignPermit(ctx, plan.Token, d.enc.Bundler, plan.Amount)
		if err != nil {
			return err
		}
		call := d.enc.Approve2(signed.Permit, signed.Signature)
		artifacts.Permit = &signed
		artifacts.PermitCall = &call
		return nil

	case domain.StepExecute:
		return d.execute(ctx, plan, artifacts)

	default:
		return fmt.Errorf("flow: unknown step %q", step)
	}
}

// execute assembles the batch in canonical order and submits it as one
// atomic multicall.
func (d *Driver) execute(ctx context.Context, plan Plan, artifacts *Artifacts) error {
	set, err := plan.Build(ctx, artifacts)
	if err != nil {
		return err
	}

	calls := make([]domain.Call, 0, len(set.Pre)+len(set.PrePull)+len(set.Ops)+4)
	calls = append(calls, set.Pre...)
	if artifacts.AuthorizationCall != nil {
		calls = append(calls, *artifacts.AuthorizationCall)
	}
	if artifacts.PermitCall != nil {
		calls = append(calls, *artifacts.PermitCall)
	}
	calls = append(calls, set.PrePull...)
	if set.Pull != nil {
		calls = append(calls, *set.Pull)
	}
	calls = append(calls, set.Ops...)
	if set.Wrap != nil {
		calls = append(calls, *set.Wrap)
	}
	if set.Sweep != nil {
		calls = append(calls, *set.Sweep)
	}
	if len(calls) == 0 {
		return fmt.Errorf("flow: %s produced an empty batch", plan.Flow)
	}

	batch := d.enc.BuildBatch(calls, d.attribution, plan.Gas)
	hash, err := d.submitter.Submit(ctx, domain.TxRequest{
		To:      batch.To,
		Data:    batch.Data,
		Value:   batch.Value,
		Gas:     batch.Gas,
		ChainID: d.chainID,
	})
	if err != nil {
		return err
	}
	d.tracker.SetTxHash(ctx, plan.Flow, hash.Hex())

	return d.submitter.WaitMined(ctx, hash)
}

// fail marks the record failed with the classified user message, persists it,
// and re-surfaces the original error.
func (d *Driver) fail(ctx context.Context, plan Plan, err error) (domain.TxRecord, error) {
	rec, _ := d.tracker.Fail(ctx, plan.Flow, UserMessage(err))
	d.persist(ctx, rec)

	d.logger.Error("flow failed",
		slog.String("flow", string(plan.Flow)),
		slog.Int("kind", int(Classify(err))),
		slog.String("error", err.Error()),
	)
	return rec, fmt.Errorf("flow %s: %w", plan.Flow, err)
}

// persist writes a terminal record to history; failures are logged only.
func (d *Driver) persist(ctx context.Context, rec domain.TxRecord) {
	if d.history == nil || rec.ID == "" {
		return
	}
	if err := d.history.Insert(ctx, rec); err != nil {
		d.logger.Warn("history insert failed",
			slog.String("record", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
