package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/domain"
)

func TestSequenceBorrowPermitPath(t *testing.T) {
	cases := []struct {
		name string
		v    Variant
		want []domain.StepID
	}{
		{
			name: "nothing granted",
			v:    Variant{UsePermit: true, PullsFunds: true},
			want: []domain.StepID{
				domain.StepAuthorizeBundlerSig,
				domain.StepApprovePermit,
				domain.StepSignPermit,
				domain.StepExecute,
			},
		},
		{
			name: "router already approved",
			v:    Variant{UsePermit: true, PullsFunds: true, TokenApproved: true},
			want: []domain.StepID{
				domain.StepAuthorizeBundlerSig,
				domain.StepSignPermit,
				domain.StepExecute,
			},
		},
		{
			name: "fully authorized still signs a fresh permit",
			v:    Variant{UsePermit: true, PullsFunds: true, BundlerAuthorized: true, TokenApproved: true},
			want: []domain.StepID{
				domain.StepSignPermit,
				domain.StepExecute,
			},
		},
		{
			name: "native skips every approval",
			v:    Variant{UsePermit: true, PullsFunds: true, Native: true, BundlerAuthorized: true},
			want: []domain.StepID{domain.StepExecute},
		},
		{
			name: "zero pull skips every approval",
			v:    Variant{UsePermit: true},
			want: []domain.StepID{
				domain.StepAuthorizeBundlerSig,
				domain.StepExecute,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sequence(domain.FlowBorrow, tc.v))
		})
	}
}

func TestSequenceBorrowClassicPath(t *testing.T) {
	got := Sequence(domain.FlowBorrow, Variant{PullsFunds: true})
	assert.Equal(t, []domain.StepID{
		domain.StepAuthorizeBundlerTx,
		domain.StepApproveToken,
		domain.StepExecute,
	}, got)

	got = Sequence(domain.FlowBorrow, Variant{PullsFunds: true, BundlerAuthorized: true, TokenApproved: true})
	assert.Equal(t, []domain.StepID{domain.StepExecute}, got)
}

func TestSequenceNoPullEmitsNoApprovalSteps(t *testing.T) {
	// Nothing leaves the wallet, so requesting any approval or permit would
	// prompt the user for a grant the operation cannot consume.
	for _, v := range []Variant{
		{},
		{UsePermit: true},
		{UsePermit: true, TokenApproved: true},
		{BundlerAuthorized: true},
	} {
		steps := Sequence(domain.FlowBorrow, v)
		assert.NotContains(t, steps, domain.StepApproveToken)
		assert.NotContains(t, steps, domain.StepApprovePermit)
		assert.NotContains(t, steps, domain.StepSignPermit)
		assert.Equal(t, domain.StepExecute, steps[len(steps)-1])
	}
}

func TestSequencePushOnlyFlowsSkipBundlerAuth(t *testing.T) {
	for _, flow := range []domain.FlowType{
		domain.FlowSupply,
		domain.FlowRepay,
		domain.FlowWrap,
		domain.FlowLiquidate,
	} {
		steps := Sequence(flow, Variant{UsePermit: true})
		assert.NotContains(t, steps, domain.StepAuthorizeBundlerSig, string(flow))
		assert.NotContains(t, steps, domain.StepAuthorizeBundlerTx, string(flow))
	}
}

func TestSequencePositionActingFlowsNeedBundlerAuth(t *testing.T) {
	for _, flow := range []domain.FlowType{
		domain.FlowBorrow,
		domain.FlowWithdraw,
		domain.FlowRebalance,
	} {
		steps := Sequence(flow, Variant{UsePermit: true})
		assert.Equal(t, domain.StepAuthorizeBundlerSig, steps[0], string(flow))
	}
}

func TestSequenceAlwaysEndsInExecute(t *testing.T) {
	flows := []domain.FlowType{
		domain.FlowBorrow, domain.FlowRepay, domain.FlowSupply,
		domain.FlowWithdraw, domain.FlowLiquidate, domain.FlowWrap,
		domain.FlowRebalance,
	}
	for _, flow := range flows {
		for i := 0; i < 32; i++ {
			v := Variant{
				Native:            i&1 != 0,
				UsePermit:         i&2 != 0,
				BundlerAuthorized: i&4 != 0,
				TokenApproved:     i&8 != 0,
				PullsFunds:        i&16 != 0,
			}
			steps := Sequence(flow, v)
			require.NotEmpty(t, steps)
			assert.Equal(t, domain.StepExecute, steps[len(steps)-1])
		}
	}
}

func TestSequencePermitSignatureAlwaysFresh(t *testing.T) {
	// A permit signature is consumed by the batch it rides in, so every
	// funds-pulling non-native permit sequence contains sign_permit no matter
	// what is already approved.
	for i := 0; i < 4; i++ {
		v := Variant{
			UsePermit:         true,
			PullsFunds:        true,
			BundlerAuthorized: i&1 != 0,
			TokenApproved:     i&2 != 0,
		}
		assert.Contains(t, Sequence(domain.FlowSupply, v), domain.StepSignPermit)
	}
}
