package encoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/crypto"
	"github.com/openlend/lenderd/internal/domain"
)

// MaxUint256 is the unlimited amount sentinel: unlimited approvals, unlimited
// share slippage on exact-amount withdrawals, and "entire balance" sweeps.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Reallocation is one (market, assets) withdrawal a vault performs to source
// liquidity into the target market.
type Reallocation struct {
	Market domain.MarketParams
	Assets *big.Int
}

// Encoder builds bundler sub-calls. All sub-calls execute inside the bundler's
// multicall, so every Call targets the bundler contract.
type Encoder struct {
	Bundler  common.Address
	Protocol common.Address
}

func New(bundler, protocol common.Address) *Encoder {
	return &Encoder{Bundler: bundler, Protocol: protocol}
}

func (e *Encoder) call(data []byte) domain.Call {
	return domain.Call{To: e.Bundler, Data: data}
}

// putMarket writes the five-word static market params tuple.
func putMarket(c *calldata, m domain.MarketParams) {
	c.putAddress(m.LoanToken)
	c.putAddress(m.CollateralToken)
	c.putAddress(m.Oracle)
	c.putAddress(m.IRM)
	c.putUint(m.LLTV)
}

// WrapNative wraps `amount` of the native currency. The returned call carries
// the amount as native value; BuildBatch folds it into the batch total.
func (e *Encoder) WrapNative(amount *big.Int) domain.Call {
	c := newCalldata(selWrapNative)
	c.putUint(amount)
	out := e.call(c.bytes())
	out.Value = new(big.Int).Set(amount)
	return out
}

// Approve2 encodes a signed router permit. The permit struct must be the
// exact payload that was signed; re-encoding anything else invalidates the
// signature on-chain.
func (e *Encoder) Approve2(p crypto.PermitSingle, sig []byte) domain.Call {
	c := newCalldata(selApprove2)
	// PermitSingle is a static tuple of six words, inlined in the head.
	c.putAddress(p.Token)
	c.putUint(p.Amount)
	c.putUint64(uint64(p.Expiration))
	c.putUint64(p.Nonce)
	c.putAddress(p.Spender)
	c.putUint(p.SigDeadline)
	c.putOffset(7 * wordLen) // signature tail follows the 7-word head
	c.putBytesTail(sig)
	return e.call(c.bytes())
}

// TransferFrom2 pulls funds from the caller through the permit router.
func (e *Encoder) TransferFrom2(asset common.Address, amount *big.Int) domain.Call {
	c := newCalldata(selTransferFrom2)
	c.putAddress(asset)
	c.putUint(amount)
	return e.call(c.bytes())
}

// ERC20TransferFrom pulls funds via a classic allowance held by the bundler.
func (e *Encoder) ERC20TransferFrom(asset common.Address, amount *big.Int) domain.Call {
	c := newCalldata(selERC20TransferFrom)
	c.putAddress(asset)
	c.putUint(amount)
	return e.call(c.bytes())
}

// Sweep transfers `amount` of asset held by the bundler to recipient. Pass
// MaxUint256 to sweep the bundler's entire remaining balance.
func (e *Encoder) Sweep(asset, recipient common.Address, amount *big.Int) domain.Call {
	c := newCalldata(selERC20Transfer)
	c.putAddress(asset)
	c.putAddress(recipient)
	c.putUint(amount)
	return e.call(c.bytes())
}

// Supply lends `assets` of the market's loan token on behalf of onBehalf.
func (e *Encoder) Supply(m domain.MarketParams, assets *big.Int, onBehalf common.Address) domain.Call {
	c := newCalldata(selSupply)
	putMarket(c, m)
	c.putUint(assets)
	c.putUint(nil) // shares: exact-assets path
	c.putUint(nil) // slippage bound unused on supply
	c.putAddress(onBehalf)
	c.putOffset(10 * wordLen)
	c.putBytesTail(nil) // no callback
	return e.call(c.bytes())
}

// SupplyCollateral posts `assets` of collateral on behalf of onBehalf.
func (e *Encoder) SupplyCollateral(m domain.MarketParams, assets *big.Int, onBehalf common.Address) domain.Call {
	c := newCalldata(selSupplyCollateral)
	putMarket(c, m)
	c.putUint(assets)
	c.putAddress(onBehalf)
	c.putOffset(8 * wordLen)
	c.putBytesTail(nil)
	return e.call(c.bytes())
}

// Borrow draws `assets` of the loan token to receiver.
func (e *Encoder) Borrow(m domain.MarketParams, assets *big.Int, receiver common.Address) domain.Call {
	c := newCalldata(selBorrow)
	putMarket(c, m)
	c.putUint(assets)
	c.putUint(nil)        // shares
	c.putUint(MaxUint256) // unlimited share slippage on exact-assets borrow
	c.putAddress(receiver)
	return e.call(c.bytes())
}

// Repay repays by exact assets (shares == nil) or by exact shares
// (assets == nil, used to close a position completely).
func (e *Encoder) Repay(m domain.MarketParams, assets, shares *big.Int, onBehalf common.Address) domain.Call {
	c := newCalldata(selRepay)
	putMarket(c, m)
	c.putUint(assets)
	c.putUint(shares)
	c.putUint(MaxUint256)
	c.putAddress(onBehalf)
	c.putOffset(10 * wordLen)
	c.putBytesTail(nil)
	return e.call(c.bytes())
}

// Withdraw withdraws an exact asset amount with unlimited share slippage. A
// solver-computed partial withdrawal must leave the remaining shares intact,
// so this never encodes a full-shares withdrawal.
func (e *Encoder) Withdraw(m domain.MarketParams, assets *big.Int, receiver common.Address) domain.Call {
	c := newCalldata(selWithdraw)
	putMarket(c, m)
	c.putUint(assets)
	c.putUint(nil)
	c.putUint(MaxUint256)
	c.putAddress(receiver)
	return e.call(c.bytes())
}

// WithdrawCollateral withdraws posted collateral to receiver.
func (e *Encoder) WithdrawCollateral(m domain.MarketParams, assets *big.Int, receiver common.Address) domain.Call {
	c := newCalldata(selWithdrawCollateral)
	putMarket(c, m)
	c.putUint(assets)
	c.putAddress(receiver)
	return e.call(c.bytes())
}

// Liquidate seizes collateral from an underwater borrower.
func (e *Encoder) Liquidate(m domain.MarketParams, borrower common.Address, seizedAssets, repaidShares *big.Int) domain.Call {
	c := newCalldata(selLiquidate)
	putMarket(c, m)
	c.putAddress(borrower)
	c.putUint(seizedAssets)
	c.putUint(repaidShares)
	c.putOffset(9 * wordLen)
	c.putBytesTail(nil)
	return e.call(c.bytes())
}

// SetAuthorizationWithSig submits a signed account-level authorization on the
// account's behalf. skipRevert lets the batch tolerate a nonce already spent
// by a concurrent authorization.
func (e *Encoder) SetAuthorizationWithSig(a crypto.Authorization, sig []byte, skipRevert bool) domain.Call {
	c := newCalldata(selSetAuthWithSig)
	c.putAddress(a.Authorizer)
	c.putAddress(a.Authorized)
	c.putBool(a.IsAuthorized)
	c.putUint(a.Nonce)
	c.putUint(a.Deadline)
	// Signature as a static (v, r, s) tuple.
	c.putUint64(uint64(sig[64]))
	c.putWord(sig[0:32])
	c.putWord(sig[32:64])
	c.putBool(skipRevert)
	return e.call(c.bytes())
}

// ReallocateTo moves idle liquidity from sibling markets of `vault` into the
// batch's target market. It must precede the borrow it funds.
func (e *Encoder) ReallocateTo(vault common.Address, withdrawals []Reallocation) domain.Call {
	c := newCalldata(selReallocateTo)
	c.putAddress(vault)
	c.putOffset(2 * wordLen)
	c.putUint64(uint64(len(withdrawals)))
	for _, w := range withdrawals {
		putMarket(c, w.Market)
		c.putUint(w.Assets)
	}
	return e.call(c.bytes())
}

// ---------------------------------------------------------------------------
// Direct (non-bundled) calldata
// ---------------------------------------------------------------------------

// ApproveCalldata encodes a standalone ERC20 approve(spender, amount).
func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	c := newCalldata(selApprove)
	c.putAddress(spender)
	c.putUint(amount)
	return c.bytes()
}

// SetAuthorizationCalldata encodes the protocol's direct
// setAuthorization(authorized, isAuthorized) transaction.
func SetAuthorizationCalldata(authorized common.Address, isAuthorized bool) []byte {
	c := newCalldata(selSetAuthorization)
	c.putAddress(authorized)
	c.putBool(isAuthorized)
	return c.bytes()
}

// ---------------------------------------------------------------------------
// Read calldata
// ---------------------------------------------------------------------------

func AllowanceCalldata(owner, spender common.Address) []byte {
	c := newCalldata(selAllowance)
	c.putAddress(owner)
	c.putAddress(spender)
	return c.bytes()
}

func PermitAllowanceCalldata(owner, token, spender common.Address) []byte {
	c := newCalldata(selPermitAllowance)
	c.putAddress(owner)
	c.putAddress(token)
	c.putAddress(spender)
	return c.bytes()
}

func IsAuthorizedCalldata(authorizer, authorized common.Address) []byte {
	c := newCalldata(selIsAuthorized)
	c.putAddress(authorizer)
	c.putAddress(authorized)
	return c.bytes()
}

func NonceCalldata(account common.Address) []byte {
	c := newCalldata(selNonce)
	c.putAddress(account)
	return c.bytes()
}

func MarketCalldata(id common.Hash) []byte {
	c := newCalldata(selMarket)
	c.putHash(id)
	return c.bytes()
}

func PositionCalldata(id common.Hash, account common.Address) []byte {
	c := newCalldata(selPosition)
	c.putHash(id)
	c.putAddress(account)
	return c.bytes()
}
