package flow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
	"github.com/openlend/lenderd/internal/solver"
)

func TestEngineBorrowRejectsZeroAmount(t *testing.T) {
	f := newFixture(t, false, nil)

	_, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: big.NewInt(0),
	})
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: nil,
	})
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestEngineBorrowRejectsIncompleteMarket(t *testing.T) {
	f := newFixture(t, false, nil)

	m := flowMarket()
	m.LoanToken = common.Address{}
	_, err := f.engine.Borrow(context.Background(), BorrowParams{Market: m, Borrow: big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrMarketDataMissing)

	m = flowMarket()
	m.LLTV = nil
	_, err = f.engine.Borrow(context.Background(), BorrowParams{Market: m, Borrow: big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrMarketDataMissing)
}

func TestEngineBorrowInsufficientLiquidityWithoutSolver(t *testing.T) {
	f := newFixture(t, false, nil)
	f.reader.authorized = true
	f.reader.liquidity = big.NewInt(50)

	_, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: big.NewInt(100),
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Empty(t, f.submitter.all(), "the flow must abort before any signature")
	_, ok := f.tracker.Get(domain.FlowBorrow)
	assert.False(t, ok)
}

func TestEngineBorrowSourcesShortfallViaReallocation(t *testing.T) {
	m := flowMarket()
	realloc := solver.NewReallocationSolver(encoder.New(flowBundler, flowProtocol), flowRouter, []domain.LiquiditySource{
		{Vault: flowRouter, Market: m, Idle: big.NewInt(1000)},
	}, 25)
	f := newFixture(t, false, realloc)

	f.reader.authorized = true
	f.reader.allowance = new(big.Int).Lsh(big.NewInt(1), 128)
	f.reader.liquidity = big.NewInt(50)

	rec, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market:     m,
		Collateral: big.NewInt(200),
		Borrow:     big.NewInt(100),
		Symbol:     "USDC",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordComplete, rec.Status)

	// Pre-granted authorization and allowance collapse the sequence to the
	// single execute step; the batch carries reallocation + pull +
	// supplyCollateral + borrow.
	reqs := f.submitter.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, flowBundler, reqs[0].To)
	assert.Equal(t, int64(4), batchCallCount(t, reqs[0].Data))

	// The reallocation must be the batch's first element: reallocating after
	// the borrow is a no-op. Shortfall is 100 - 50.
	wantRealloc, _, err := realloc.Compute(big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, wantRealloc.Data, batchCallAt(t, reqs[0].Data, 0))
}

func TestEngineBorrowWithoutCollateralPermitPath(t *testing.T) {
	// Collateral may be omitted when the position is already collateralized;
	// nothing is pulled, so no approval or permit prompt may appear and the
	// flow must not touch the permit signer at all.
	f := newFixture(t, true, nil)

	rec, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: big.NewInt(100),
		Symbol: "USDC",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RecordComplete, rec.Status)
	assert.Equal(t, []domain.StepID{
		domain.StepAuthorizeBundlerSig,
		domain.StepExecute,
	}, rec.Steps)

	reqs := f.submitter.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, flowBundler, reqs[0].To)
	assert.Equal(t, int64(2), batchCallCount(t, reqs[0].Data), "auth sig call + borrow")
	assert.Zero(t, reqs[0].Value.Sign())
}

func TestEngineBorrowWithoutCollateralClassicPath(t *testing.T) {
	f := newFixture(t, false, nil)

	rec, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: big.NewInt(100),
		Symbol: "USDC",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RecordComplete, rec.Status)
	assert.Equal(t, []domain.StepID{
		domain.StepAuthorizeBundlerTx,
		domain.StepExecute,
	}, rec.Steps, "a zero pull needs no token approval")

	reqs := f.submitter.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, flowProtocol, reqs[0].To, "authorization transaction")
	assert.Equal(t, flowBundler, reqs[1].To)
	assert.Equal(t, int64(1), batchCallCount(t, reqs[1].Data), "borrow only")
}

func TestEngineSupplyClassicApproved(t *testing.T) {
	f := newFixture(t, false, nil)
	f.reader.allowance = new(big.Int).Lsh(big.NewInt(1), 128)

	rec, err := f.engine.Supply(context.Background(), SupplyParams{
		Market: flowMarket(),
		Assets: big.NewInt(5000),
		Symbol: "USDC",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RecordComplete, rec.Status)
	assert.Equal(t, domain.FlowSupply, rec.Flow)

	reqs := f.submitter.all()
	require.Len(t, reqs, 1, "sufficient allowance means no approval transaction")
	assert.Equal(t, int64(2), batchCallCount(t, reqs[0].Data), "pull + supply")
}

func TestEngineSupplyNativeWrapsAndCarriesValue(t *testing.T) {
	f := newFixture(t, false, nil)
	assets := big.NewInt(7_000_000)

	rec, err := f.engine.Supply(context.Background(), SupplyParams{
		Market: flowMarket(),
		Assets: assets,
		Native: true,
		Symbol: "ETH",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordComplete, rec.Status)

	reqs := f.submitter.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(2), batchCallCount(t, reqs[0].Data), "supply + wrap, no pull")
	assert.Equal(t, assets, reqs[0].Value, "the wrap amount becomes the batch value")
}

func TestEngineWrap(t *testing.T) {
	f := newFixture(t, true, nil)
	amount := big.NewInt(123)

	rec, err := f.engine.Wrap(context.Background(), WrapParams{Amount: amount, Symbol: "ETH"})
	require.NoError(t, err)

	assert.Equal(t, domain.FlowWrap, rec.Flow)
	assert.Equal(t, domain.RecordComplete, rec.Status)

	reqs := f.submitter.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(2), batchCallCount(t, reqs[0].Data), "wrap + sweep")
	assert.Equal(t, amount, reqs[0].Value)
}

func TestEngineRebalanceValidation(t *testing.T) {
	f := newFixture(t, false, nil)
	m1 := flowMarket()

	_, err := f.engine.Rebalance(context.Background(), RebalanceParams{
		Target: []solver.Allocation{{Market: m1, Assets: big.NewInt(1)}},
	})
	assert.ErrorIs(t, err, domain.ErrMarketDataMissing, "zero asset address")

	_, err = f.engine.Rebalance(context.Background(), RebalanceParams{Asset: flowToken})
	assert.ErrorIs(t, err, domain.ErrMarketDataMissing, "empty target")

	same := []solver.Allocation{{Market: m1, Assets: big.NewInt(500)}}
	_, err = f.engine.Rebalance(context.Background(), RebalanceParams{
		Asset:   flowToken,
		Current: same,
		Target:  same,
	})
	assert.ErrorIs(t, err, domain.ErrZeroAmount, "already at target")
}

func TestEngineRebalanceBatchShape(t *testing.T) {
	f := newFixture(t, false, nil)
	f.reader.authorized = true
	f.reader.allowance = new(big.Int).Lsh(big.NewInt(1), 128)

	m1 := flowMarket()
	m2 := flowMarket()
	m2.Oracle = common.HexToAddress("0x7474747474747474747474747474747474747474")

	rec, err := f.engine.Rebalance(context.Background(), RebalanceParams{
		Asset:   flowToken,
		Current: []solver.Allocation{{Market: m1, Assets: big.NewInt(100_000)}},
		Target:  []solver.Allocation{{Market: m2, Assets: big.NewInt(100_000)}},
		Symbol:  "USDC",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordComplete, rec.Status)
	assert.Equal(t, "100000", rec.Meta.Amount)

	reqs := f.submitter.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(4), batchCallCount(t, reqs[0].Data), "withdraw + pull + supply + sweep")
}

func TestEngineResolveVariantAuthzUnread(t *testing.T) {
	f := newFixture(t, false, nil)
	f.reader.authErr = errors.New("rpc timeout")

	_, err := f.engine.Borrow(context.Background(), BorrowParams{
		Market: flowMarket(),
		Borrow: big.NewInt(100),
	})
	assert.ErrorIs(t, err, domain.ErrAuthzNotReady)
}
