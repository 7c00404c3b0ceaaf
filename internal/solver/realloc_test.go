package solver

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

var (
	solverBundler      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	solverProtocol     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	solverVault        = common.HexToAddress("0x3333333333333333333333333333333333333333")
	solverAsset        = common.HexToAddress("0x4444444444444444444444444444444444444444")
	solverOwner        = common.HexToAddress("0x5555555555555555555555555555555555555555")
	solverFeeRecipient = common.HexToAddress("0x6666666666666666666666666666666666666666")
)

func marketN(n byte) domain.MarketParams {
	return domain.MarketParams{
		LoanToken:       solverAsset,
		CollateralToken: common.BytesToAddress([]byte{n}),
		Oracle:          common.BytesToAddress([]byte{n, 1}),
		IRM:             common.BytesToAddress([]byte{n, 2}),
		LLTV:            big.NewInt(860000000000000000),
	}
}

func sourceN(n byte, idle int64) domain.LiquiditySource {
	return domain.LiquiditySource{
		Vault:  solverVault,
		Market: marketN(n),
		Idle:   big.NewInt(idle),
	}
}

func TestCanSourceBoundary(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	s := NewReallocationSolver(enc, solverVault, []domain.LiquiditySource{
		sourceN(1, 100),
		sourceN(2, 200),
	}, 25)

	assert.True(t, s.CanSource(big.NewInt(300)), "exact total must be sourceable")
	assert.False(t, s.CanSource(big.NewInt(301)))
}

func TestComputeGreedyLargestFirst(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	// Deliberately unsorted; construction must order largest idle first.
	s := NewReallocationSolver(enc, solverVault, []domain.LiquiditySource{
		sourceN(1, 100),
		sourceN(2, 300),
		sourceN(3, 200),
	}, 25)

	call, fee, err := s.Compute(big.NewInt(350))
	require.NoError(t, err)

	// 300 drains source 2 entirely, the remaining 50 comes from source 3;
	// source 1 is untouched.
	want := enc.ReallocateTo(solverVault, []encoder.Reallocation{
		{Market: marketN(2), Assets: big.NewInt(300)},
		{Market: marketN(3), Assets: big.NewInt(50)},
	})
	assert.Equal(t, want.Data, call.Data)
	assert.Equal(t, solverBundler, call.To)
	assert.Zero(t, fee.Int64(), "350 * 25bps floors to zero")
}

func TestComputeFee(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	s := NewReallocationSolver(enc, solverVault, []domain.LiquiditySource{
		sourceN(1, 1_000_000),
	}, 25)

	_, fee, err := s.Compute(big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, int64(25), fee.Int64())
}

func TestComputeRejectsNonPositiveShortfall(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	s := NewReallocationSolver(enc, solverVault, []domain.LiquiditySource{sourceN(1, 100)}, 25)

	_, _, err := s.Compute(nil)
	assert.Error(t, err)

	_, _, err = s.Compute(big.NewInt(0))
	assert.Error(t, err)

	_, _, err = s.Compute(big.NewInt(-5))
	assert.Error(t, err)
}

func TestComputeInsufficientLiquidity(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	s := NewReallocationSolver(enc, solverVault, []domain.LiquiditySource{sourceN(1, 100)}, 25)

	_, _, err := s.Compute(big.NewInt(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestConstructorDoesNotMutateInput(t *testing.T) {
	enc := encoder.New(solverBundler, solverProtocol)
	in := []domain.LiquiditySource{sourceN(1, 100), sourceN(2, 300)}

	NewReallocationSolver(enc, solverVault, in, 25)

	assert.Equal(t, int64(100), in[0].Idle.Int64(), "caller slice must keep its order")
	assert.Equal(t, int64(300), in[1].Idle.Int64())
}
