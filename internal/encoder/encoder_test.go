package encoder

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlend/lenderd/internal/crypto"
	"github.com/openlend/lenderd/internal/domain"
)

var (
	testBundler  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testProtocol = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testAccount  = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testVault    = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func testMarket() domain.MarketParams {
	return domain.MarketParams{
		LoanToken:       testToken,
		CollateralToken: common.HexToAddress("0x6666666666666666666666666666666666666666"),
		Oracle:          common.HexToAddress("0x7777777777777777777777777777777777777777"),
		IRM:             common.HexToAddress("0x8888888888888888888888888888888888888888"),
		LLTV:            big.NewInt(860000000000000000),
	}
}

// word returns the i-th 32-byte argument word of encoded calldata.
func word(t *testing.T, data []byte, i int) []byte {
	t.Helper()
	start := 4 + i*wordLen
	require.LessOrEqual(t, start+wordLen, len(data), "calldata too short for word %d", i)
	return data[start : start+wordLen]
}

func wordInt(t *testing.T, data []byte, i int) *big.Int {
	return new(big.Int).SetBytes(word(t, data, i))
}

func TestSelectorKnownValues(t *testing.T) {
	// Well-known four-byte ids pin the derivation so a signature typo cannot
	// silently produce a different selector.
	cases := map[string]string{
		"approve(address,uint256)":   "095ea7b3",
		"allowance(address,address)": "dd62ed3e",
		"multicall(bytes[])":         "ac9650d8",
	}
	for sig, want := range cases {
		sel := selector(sig)
		assert.Equal(t, want, hex.EncodeToString(sel[:]), sig)
	}
}

func TestApproveCalldata(t *testing.T) {
	data := ApproveCalldata(testBundler, MaxUint256)

	require.Len(t, data, 4+2*wordLen)
	assert.Equal(t, "095ea7b3", hex.EncodeToString(data[:4]))
	assert.Equal(t, testBundler, common.BytesToAddress(word(t, data, 0)))
	assert.Equal(t, MaxUint256, wordInt(t, data, 1))
}

func TestWrapNativeCarriesValue(t *testing.T) {
	e := New(testBundler, testProtocol)
	amount := big.NewInt(1_000_000)

	call := e.WrapNative(amount)

	assert.Equal(t, testBundler, call.To)
	require.Len(t, call.Data, 4+wordLen)
	assert.Equal(t, amount, wordInt(t, call.Data, 0))
	assert.Equal(t, amount, call.Value)

	// The encoded call owns its value; mutating the input must not leak in.
	amount.SetInt64(5)
	assert.Equal(t, int64(1_000_000), call.Value.Int64())
}

func TestApprove2Layout(t *testing.T) {
	e := New(testBundler, testProtocol)
	permit := crypto.PermitSingle{
		Token:       testToken,
		Amount:      big.NewInt(123456),
		Expiration:  1700000000,
		Nonce:       7,
		Spender:     testBundler,
		SigDeadline: big.NewInt(1700000600),
	}
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = byte(i + 1)
	}

	call := e.Approve2(permit, sig)
	data := call.Data

	// 7-word head, then the dynamic signature: length word + 65 bytes padded
	// to 96.
	require.Len(t, data, 4+7*wordLen+wordLen+96)
	assert.Equal(t, testToken, common.BytesToAddress(word(t, data, 0)))
	assert.Equal(t, int64(123456), wordInt(t, data, 1).Int64())
	assert.Equal(t, int64(1700000000), wordInt(t, data, 2).Int64())
	assert.Equal(t, int64(7), wordInt(t, data, 3).Int64())
	assert.Equal(t, testBundler, common.BytesToAddress(word(t, data, 4)))
	assert.Equal(t, int64(1700000600), wordInt(t, data, 5).Int64())
	assert.Equal(t, int64(7*wordLen), wordInt(t, data, 6).Int64())
	assert.Equal(t, int64(65), wordInt(t, data, 7).Int64())
	assert.Equal(t, sig, data[4+8*wordLen:4+8*wordLen+65])
}

func TestBorrowLayout(t *testing.T) {
	e := New(testBundler, testProtocol)
	m := testMarket()
	assets := big.NewInt(5000)

	call := e.Borrow(m, assets, testAccount)
	data := call.Data

	// Five market words, assets, shares (zero), slippage, receiver.
	require.Len(t, data, 4+9*wordLen)
	assert.Equal(t, m.LoanToken, common.BytesToAddress(word(t, data, 0)))
	assert.Equal(t, m.CollateralToken, common.BytesToAddress(word(t, data, 1)))
	assert.Equal(t, m.Oracle, common.BytesToAddress(word(t, data, 2)))
	assert.Equal(t, m.IRM, common.BytesToAddress(word(t, data, 3)))
	assert.Equal(t, m.LLTV, wordInt(t, data, 4))
	assert.Equal(t, assets, wordInt(t, data, 5))
	assert.Zero(t, wordInt(t, data, 6).Sign(), "shares word must be zero on exact-assets borrow")
	assert.Equal(t, MaxUint256, wordInt(t, data, 7), "share slippage must be unlimited")
	assert.Equal(t, testAccount, common.BytesToAddress(word(t, data, 8)))
}

func TestWithdrawNeverEncodesFullShares(t *testing.T) {
	e := New(testBundler, testProtocol)

	call := e.Withdraw(testMarket(), big.NewInt(777), testAccount)
	data := call.Data

	require.Len(t, data, 4+9*wordLen)
	assert.Equal(t, int64(777), wordInt(t, data, 5).Int64())
	assert.Zero(t, wordInt(t, data, 6).Sign(), "shares must stay zero: exact-assets only")
	assert.Equal(t, MaxUint256, wordInt(t, data, 7))
}

func TestSupplyLayout(t *testing.T) {
	e := New(testBundler, testProtocol)
	assets := big.NewInt(42)

	call := e.Supply(testMarket(), assets, testAccount)
	data := call.Data

	// 10-word head plus an empty callback (length word only).
	require.Len(t, data, 4+11*wordLen)
	assert.Equal(t, assets, wordInt(t, data, 5))
	assert.Equal(t, testAccount, common.BytesToAddress(word(t, data, 8)))
	assert.Equal(t, int64(10*wordLen), wordInt(t, data, 9).Int64())
	assert.Zero(t, wordInt(t, data, 10).Sign(), "callback must be empty")
}

func TestSetAuthorizationWithSigLayout(t *testing.T) {
	e := New(testBundler, testProtocol)
	auth := crypto.Authorization{
		Authorizer:   testAccount,
		Authorized:   testBundler,
		IsAuthorized: true,
		Nonce:        big.NewInt(3),
		Deadline:     big.NewInt(1700000999),
	}
	sig := make([]byte, 65)
	copy(sig[0:32], common.LeftPadBytes([]byte{0xaa}, 32))
	copy(sig[32:64], common.LeftPadBytes([]byte{0xbb}, 32))
	sig[64] = 28

	call := e.SetAuthorizationWithSig(auth, sig, true)
	data := call.Data

	require.Len(t, data, 4+9*wordLen)
	assert.Equal(t, testAccount, common.BytesToAddress(word(t, data, 0)))
	assert.Equal(t, testBundler, common.BytesToAddress(word(t, data, 1)))
	assert.Equal(t, int64(1), wordInt(t, data, 2).Int64())
	assert.Equal(t, int64(3), wordInt(t, data, 3).Int64())
	assert.Equal(t, int64(1700000999), wordInt(t, data, 4).Int64())
	assert.Equal(t, int64(28), wordInt(t, data, 5).Int64(), "v")
	assert.Equal(t, sig[0:32], word(t, data, 6), "r")
	assert.Equal(t, sig[32:64], word(t, data, 7), "s")
	assert.Equal(t, int64(1), wordInt(t, data, 8).Int64(), "skipRevert")
}

func TestReallocateToLayout(t *testing.T) {
	e := New(testBundler, testProtocol)
	m1 := testMarket()
	m2 := testMarket()
	m2.Oracle = common.HexToAddress("0x9999999999999999999999999999999999999999")

	call := e.ReallocateTo(testVault, []Reallocation{
		{Market: m1, Assets: big.NewInt(100)},
		{Market: m2, Assets: big.NewInt(200)},
	})
	data := call.Data

	// vault, offset, length, then six words per withdrawal.
	require.Len(t, data, 4+(3+2*6)*wordLen)
	assert.Equal(t, testVault, common.BytesToAddress(word(t, data, 0)))
	assert.Equal(t, int64(2*wordLen), wordInt(t, data, 1).Int64())
	assert.Equal(t, int64(2), wordInt(t, data, 2).Int64())
	assert.Equal(t, int64(100), wordInt(t, data, 8).Int64())
	assert.Equal(t, m2.Oracle, common.BytesToAddress(word(t, data, 11)))
	assert.Equal(t, int64(200), wordInt(t, data, 14).Int64())
}

func TestBuildBatchOffsetsAndValue(t *testing.T) {
	e := New(testBundler, testProtocol)
	wrap := e.WrapNative(big.NewInt(1500))
	sweep := e.Sweep(testToken, testAccount, MaxUint256)
	calls := []domain.Call{wrap, sweep}

	batch := e.BuildBatch(calls, nil, 600_000)

	assert.Equal(t, testBundler, batch.To)
	assert.Equal(t, uint64(600_000), batch.Gas)
	assert.Equal(t, int64(1500), batch.Value.Int64(), "batch value is the sum of sub-call native values")

	data := batch.Data
	sel := selector("multicall(bytes[])")
	assert.Equal(t, sel[:], data[:4])

	// Head: array offset, element count, then per-element offsets relative to
	// the word after the count.
	assert.Equal(t, int64(wordLen), wordInt(t, data, 0).Int64())
	assert.Equal(t, int64(2), wordInt(t, data, 1).Int64())
	assert.Equal(t, int64(2*wordLen), wordInt(t, data, 2).Int64())
	assert.Equal(t, int64(2*wordLen+paddedLen(wrap.Data)), wordInt(t, data, 3).Int64())

	// First tail: length word then the wrap calldata right-padded.
	assert.Equal(t, int64(len(wrap.Data)), wordInt(t, data, 4).Int64())
	tail := data[4+5*wordLen:]
	assert.Equal(t, wrap.Data, tail[:len(wrap.Data)])
}

func TestBuildBatchPreservesOrder(t *testing.T) {
	e := New(testBundler, testProtocol)
	a := e.TransferFrom2(testToken, big.NewInt(1))
	b := e.Supply(testMarket(), big.NewInt(1), testAccount)
	c := e.Sweep(testToken, testAccount, MaxUint256)

	batch := e.BuildBatch([]domain.Call{a, b, c}, nil, 0)
	data := batch.Data

	// Walk the element offsets and check each tail starts with the matching
	// sub-call selector.
	base := 4 + 2*wordLen // start of the array data
	for i, call := range []domain.Call{a, b, c} {
		off := wordInt(t, data, 2+i).Int64()
		elem := data[base+int(off):]
		gotLen := new(big.Int).SetBytes(elem[:wordLen]).Int64()
		require.Equal(t, int64(len(call.Data)), gotLen)
		assert.Equal(t, call.Data[:4], elem[wordLen:wordLen+4], "sub-call %d out of order", i)
	}
}

func TestBuildBatchAppendsAttribution(t *testing.T) {
	e := New(testBundler, testProtocol)
	calls := []domain.Call{e.WrapNative(big.NewInt(1))}
	attribution := []byte{0xde, 0xad, 0xbe, 0xef}

	plain := e.BuildBatch(calls, nil, 0)
	tagged := e.BuildBatch(calls, attribution, 0)

	require.Len(t, tagged.Data, len(plain.Data)+len(attribution))
	assert.Equal(t, plain.Data, tagged.Data[:len(plain.Data)])
	assert.Equal(t, attribution, tagged.Data[len(plain.Data):])
}

func TestPaddedLen(t *testing.T) {
	assert.Equal(t, wordLen, paddedLen(nil))
	assert.Equal(t, 2*wordLen, paddedLen(make([]byte, 1)))
	assert.Equal(t, 2*wordLen, paddedLen(make([]byte, 32)))
	assert.Equal(t, 4*wordLen, paddedLen(make([]byte, 65)))
}

func TestReadCalldataShapes(t *testing.T) {
	id := testMarket().ID()

	assert.Len(t, AllowanceCalldata(testAccount, testBundler), 4+2*wordLen)
	assert.Len(t, PermitAllowanceCalldata(testAccount, testToken, testBundler), 4+3*wordLen)
	assert.Len(t, IsAuthorizedCalldata(testAccount, testBundler), 4+2*wordLen)
	assert.Len(t, NonceCalldata(testAccount), 4+wordLen)
	assert.Len(t, MarketCalldata(id), 4+wordLen)
	assert.Len(t, PositionCalldata(id, testAccount), 4+2*wordLen)

	data := PositionCalldata(id, testAccount)
	assert.Equal(t, id.Bytes(), word(t, data, 0))
	assert.Equal(t, testAccount, common.BytesToAddress(word(t, data, 1)))
}
