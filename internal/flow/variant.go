// Package flow drives user intents (borrow, repay, supply, withdraw,
// liquidate, wrap, rebalance) through their authorization steps and assembles
// the final atomic bundler batch.
package flow

import (
	"github.com/openlend/lenderd/internal/domain"
)

// Variant is the runtime shape of one operation, resolved once from chain
// state and then consulted everywhere a branch is needed, so the planned step
// list and the execution order can never diverge.
type Variant struct {
	// Native: the moved asset is the native currency (wrap path, no approvals).
	Native bool
	// UsePermit: signature-based permits instead of classic approvals.
	UsePermit bool
	// BundlerAuthorized: the account already authorized the bundler.
	BundlerAuthorized bool
	// TokenApproved: the relevant spender already holds a sufficient allowance.
	TokenApproved bool
	// PullsFunds: the operation moves tokens out of the wallet. When false
	// (zero-collateral borrow, plain withdraw) no spender needs an allowance,
	// so no approval or permit step may appear.
	PullsFunds bool
}

// needsBundlerAuth lists the flows where the bundler acts on the account's
// position and therefore requires the account-level authorization. Flows that
// only push funds in (supply, repay, wrap, liquidate) do not.
var needsBundlerAuth = map[domain.FlowType]bool{
	domain.FlowBorrow:    true,
	domain.FlowWithdraw:  true,
	domain.FlowRebalance: true,
}

// Sequence computes the ordered step list for a flow under a variant. It
// contains exactly the steps whose preconditions are unmet, in fixed relative
// order, and always terminates in execute:
//
//	[authorize_bundler_tx | authorize_bundler_sig] →
//	[approve_token | approve_permit] → [sign_permit] → execute
//
// The approval/permit block exists only when the operation pulls tokens from
// the wallet; native and pull-free operations skip it entirely.
func Sequence(flow domain.FlowType, v Variant) []domain.StepID {
	var steps []domain.StepID

	if needsBundlerAuth[flow] && !v.BundlerAuthorized {
		if v.UsePermit {
			steps = append(steps, domain.StepAuthorizeBundlerSig)
		} else {
			steps = append(steps, domain.StepAuthorizeBundlerTx)
		}
	}

	if v.PullsFunds && !v.Native {
		if v.UsePermit {
			if !v.TokenApproved {
				steps = append(steps, domain.StepApprovePermit)
			}
			// A permit signature is consumed by the batch, so it is produced
			// fresh for every operation regardless of prior approvals.
			steps = append(steps, domain.StepSignPermit)
		} else if !v.TokenApproved {
			steps = append(steps, domain.StepApproveToken)
		}
	}

	return append(steps, domain.StepExecute)
}
