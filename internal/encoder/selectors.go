// Package encoder turns semantic lending operations into ABI-encoded bundler
// sub-calls and assembles them into one atomic multicall payload. It never
// reorders calls; ordering correctness belongs to the flow layer.
package encoder

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Canonical function signatures. Selectors are derived at init so a typo in a
// signature can never silently diverge from its selector.
const (
	sigMulticall          = "multicall(bytes[])"
	sigWrapNative         = "wrapNative(uint256)"
	sigApprove2           = "approve2(((address,uint160,uint48,uint48),address,uint256),bytes)"
	sigTransferFrom2      = "transferFrom2(address,uint256)"
	sigERC20TransferFrom  = "erc20TransferFrom(address,uint256)"
	sigERC20Transfer      = "erc20Transfer(address,address,uint256)"
	sigSupply             = "morphoSupply((address,address,address,address,uint256),uint256,uint256,uint256,address,bytes)"
	sigSupplyCollateral   = "morphoSupplyCollateral((address,address,address,address,uint256),uint256,address,bytes)"
	sigBorrow             = "morphoBorrow((address,address,address,address,uint256),uint256,uint256,uint256,address)"
	sigRepay              = "morphoRepay((address,address,address,address,uint256),uint256,uint256,uint256,address,bytes)"
	sigWithdraw           = "morphoWithdraw((address,address,address,address,uint256),uint256,uint256,uint256,address)"
	sigWithdrawCollateral = "morphoWithdrawCollateral((address,address,address,address,uint256),uint256,address)"
	sigLiquidate          = "morphoLiquidate((address,address,address,address,uint256),address,uint256,uint256,bytes)"
	sigSetAuthWithSig     = "morphoSetAuthorizationWithSig((address,address,bool,uint256,uint256),(uint8,bytes32,bytes32),bool)"
	sigReallocateTo       = "reallocateTo(address,((address,address,address,address,uint256),uint256)[])"

	// Direct (non-bundled) calls.
	sigApprove          = "approve(address,uint256)"
	sigSetAuthorization = "setAuthorization(address,bool)"

	// Read calls.
	sigAllowance       = "allowance(address,address)"
	sigPermitAllowance = "allowance(address,address,address)"
	sigIsAuthorized    = "isAuthorized(address,address)"
	sigNonce           = "nonce(address)"
	sigMarket          = "market(bytes32)"
	sigPosition        = "position(bytes32,address)"
)

var (
	selMulticall          = selector(sigMulticall)
	selWrapNative         = selector(sigWrapNative)
	selApprove2           = selector(sigApprove2)
	selTransferFrom2      = selector(sigTransferFrom2)
	selERC20TransferFrom  = selector(sigERC20TransferFrom)
	selERC20Transfer      = selector(sigERC20Transfer)
	selSupply             = selector(sigSupply)
	selSupplyCollateral   = selector(sigSupplyCollateral)
	selBorrow             = selector(sigBorrow)
	selRepay              = selector(sigRepay)
	selWithdraw           = selector(sigWithdraw)
	selWithdrawCollateral = selector(sigWithdrawCollateral)
	selLiquidate          = selector(sigLiquidate)
	selSetAuthWithSig     = selector(sigSetAuthWithSig)
	selReallocateTo       = selector(sigReallocateTo)
	selApprove            = selector(sigApprove)
	selSetAuthorization   = selector(sigSetAuthorization)
	selAllowance          = selector(sigAllowance)
	selPermitAllowance    = selector(sigPermitAllowance)
	selIsAuthorized       = selector(sigIsAuthorized)
	selNonce              = selector(sigNonce)
	selMarket             = selector(sigMarket)
	selPosition           = selector(sigPosition)
)

// selector returns the first four bytes of keccak256(signature).
func selector(signature string) [4]byte {
	hash := ethcrypto.Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}
