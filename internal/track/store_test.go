package track

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/domain"
)

type capturePublisher struct {
	mu      sync.Mutex
	records []domain.TxRecord
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, rec domain.TxRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return p.err
}

func (p *capturePublisher) all() []domain.TxRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TxRecord(nil), p.records...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var borrowSteps = []domain.StepID{
	domain.StepAuthorizeBundlerSig,
	domain.StepSignPermit,
	domain.StepExecute,
}

func TestStartCreatesPendingRecord(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	rec := s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{Symbol: "USDC"}, borrowSteps[0])

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.FlowBorrow, rec.Flow)
	assert.Equal(t, domain.RecordPending, rec.Status)
	assert.Equal(t, domain.StepAuthorizeBundlerSig, rec.Current)
	assert.Equal(t, borrowSteps, rec.Steps)
	assert.Equal(t, "USDC", rec.Meta.Symbol)
	assert.False(t, rec.CreatedAt.IsZero())

	got, ok := s.Get(domain.FlowBorrow)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
}

func TestUpdateMovesStepPointer(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.Update(ctx, domain.FlowBorrow, domain.StepSignPermit)

	got, ok := s.Get(domain.FlowBorrow)
	require.True(t, ok)
	assert.Equal(t, domain.StepSignPermit, got.Current)
}

func TestUpdateWithoutStartIsNoop(t *testing.T) {
	s := NewStore(nil, testLogger())

	s.Update(context.Background(), domain.FlowBorrow, domain.StepExecute)

	_, ok := s.Get(domain.FlowBorrow)
	assert.False(t, ok)
}

func TestCompleteClearsActivePointer(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.SetTxHash(ctx, domain.FlowBorrow, "0xabc")

	rec, ok := s.Complete(ctx, domain.FlowBorrow)
	require.True(t, ok)
	assert.Equal(t, domain.RecordComplete, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash)

	// Post-terminal mutations must not touch the record.
	s.Update(ctx, domain.FlowBorrow, domain.StepSignPermit)
	s.SetTxHash(ctx, domain.FlowBorrow, "0xdef")

	got, _ := s.Get(domain.FlowBorrow)
	assert.Equal(t, domain.RecordComplete, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Equal(t, domain.StepExecute, got.Current)

	_, ok = s.Complete(ctx, domain.FlowBorrow)
	assert.False(t, ok, "second terminal transition finds no active record")
}

func TestFailSetsMessage(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowWithdraw, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	rec, ok := s.Fail(ctx, domain.FlowWithdraw, "Signature request was declined.")

	require.True(t, ok)
	assert.Equal(t, domain.RecordFailed, rec.Status)
	assert.Equal(t, "Signature request was declined.", rec.Error)
}

func TestSecondStartReplacesRecord(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	first := s.Start(ctx, domain.FlowSupply, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	second := s.Start(ctx, domain.FlowSupply, borrowSteps, domain.RecordMeta{}, borrowSteps[0])

	assert.NotEqual(t, first.ID, second.ID)
	got, ok := s.Get(domain.FlowSupply)
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}

func TestFlowsAreIndependent(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.Start(ctx, domain.FlowSupply, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.Complete(ctx, domain.FlowBorrow)

	supply, ok := s.Get(domain.FlowSupply)
	require.True(t, ok)
	assert.Equal(t, domain.RecordPending, supply.Status)
	assert.Len(t, s.List(), 2)
}

func TestDismissRemovesRecord(t *testing.T) {
	s := NewStore(nil, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowWrap, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.Dismiss(domain.FlowWrap)

	_, ok := s.Get(domain.FlowWrap)
	assert.False(t, ok)
}

func TestEveryMutationPublishes(t *testing.T) {
	pub := &capturePublisher{}
	s := NewStore(pub, testLogger())
	ctx := context.Background()

	s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	s.Update(ctx, domain.FlowBorrow, domain.StepSignPermit)
	s.SetTxHash(ctx, domain.FlowBorrow, "0xabc")
	s.Complete(ctx, domain.FlowBorrow)

	got := pub.all()
	require.Len(t, got, 4)
	assert.Equal(t, domain.RecordPending, got[0].Status)
	assert.Equal(t, domain.StepSignPermit, got[1].Current)
	assert.Equal(t, "0xabc", got[2].TxHash)
	assert.Equal(t, domain.RecordComplete, got[3].Status)
}

func TestPublisherFailureDoesNotPropagate(t *testing.T) {
	pub := &capturePublisher{err: errors.New("bus down")}
	s := NewStore(pub, testLogger())
	ctx := context.Background()

	rec := s.Start(ctx, domain.FlowBorrow, borrowSteps, domain.RecordMeta{}, borrowSteps[0])
	assert.NotEmpty(t, rec.ID)

	_, ok := s.Complete(ctx, domain.FlowBorrow)
	assert.True(t, ok)
}

func TestStepIndex(t *testing.T) {
	rec := domain.TxRecord{Steps: borrowSteps}
	assert.Equal(t, 1, rec.StepIndex(domain.StepSignPermit))
	assert.Equal(t, -1, rec.StepIndex(domain.StepApproveToken))
}
