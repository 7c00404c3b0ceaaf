package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,uint256 chainId,address verifyingContract)
	permitDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"),
	)

	// EIP712Domain(uint256 chainId,address verifyingContract)
	protocolDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(uint256 chainId,address verifyingContract)"),
	)

	// PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)
	permitDetailsTypeHash = ethcrypto.Keccak256(
		[]byte("PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"),
	)

	// PermitSingle(PermitDetails details,address spender,uint256 sigDeadline)PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)
	permitSingleTypeHash = ethcrypto.Keccak256(
		[]byte("PermitSingle(PermitDetails details,address spender,uint256 sigDeadline)PermitDetails(address token,uint160 amount,uint48 expiration,uint48 nonce)"),
	)

	// Authorization(address authorizer,address authorized,bool isAuthorized,uint256 nonce,uint256 deadline)
	authorizationTypeHash = ethcrypto.Keccak256(
		[]byte("Authorization(address authorizer,address authorized,bool isAuthorized,uint256 nonce,uint256 deadline)"),
	)
)

// PermitSingle is the exact typed-data payload of a router permit. The signed
// struct must echo byte-for-byte into the encoded permit call; any divergence
// invalidates the signature on-chain.
type PermitSingle struct {
	Token       common.Address
	Amount      *big.Int // uint160
	Expiration  int64    // uint48
	Nonce       uint64   // uint48
	Spender     common.Address
	SigDeadline *big.Int
}

// Authorization is the account-level typed-data payload that grants (or
// revokes) a bundler's right to act on the authorizer's positions.
type Authorization struct {
	Authorizer   common.Address
	Authorized   common.Address
	IsAuthorized bool
	Nonce        *big.Int
	Deadline     *big.Int
}

// Signer produces EIP-712 signatures for the permit router and the lending
// protocol's account authorization. It implements domain.TypedSigner.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	permitDomainSep   []byte // cached: permit router domain
	protocolDomainSep []byte // cached: lending protocol domain
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key, the
// target chain id, and the verifying contracts for the permit router and the
// lending protocol.
func NewSigner(privateKeyHex string, chainID *big.Int, permitRouter, protocol common.Address) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    new(big.Int).Set(chainID),
	}

	// Permit2 domain: keccak256(abi.encode(typeHash, nameHash, chainId, verifyingContract)).
	s.permitDomainSep = ethcrypto.Keccak256(
		concatBytes(
			permitDomainTypeHash,
			ethcrypto.Keccak256([]byte("Permit2")),
			bigIntTo32Bytes(s.chainID),
			common.LeftPadBytes(permitRouter.Bytes(), 32),
		),
	)

	// Protocol domain carries no name or version, only chainId and contract.
	s.protocolDomainSep = ethcrypto.Keccak256(
		concatBytes(
			protocolDomainTypeHash,
			bigIntTo32Bytes(s.chainID),
			common.LeftPadBytes(protocol.Bytes(), 32),
		),
	)

	return s, nil
}

// Account returns the address derived from the signer's private key.
func (s *Signer) Account() common.Address {
	return s.address
}

// SignPermit signs a PermitSingle against the permit router domain and
// returns the 65-byte r||s||v signature.
func (s *Signer) SignPermit(p PermitSingle) ([]byte, error) {
	detailsHash := ethcrypto.Keccak256(
		concatBytes(
			permitDetailsTypeHash,
			common.LeftPadBytes(p.Token.Bytes(), 32),
			bigIntTo32Bytes(p.Amount),
			bigIntTo32Bytes(big.NewInt(p.Expiration)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.Nonce)),
		),
	)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			permitSingleTypeHash,
			detailsHash,
			common.LeftPadBytes(p.Spender.Bytes(), 32),
			bigIntTo32Bytes(p.SigDeadline),
		),
	)

	return s.SignDigest(eip712Hash(s.permitDomainSep, structHash))
}

// SignAuthorization signs an account-level Authorization against the
// protocol domain.
func (s *Signer) SignAuthorization(a Authorization) ([]byte, error) {
	isAuth := new(big.Int)
	if a.IsAuthorized {
		isAuth.SetUint64(1)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			authorizationTypeHash,
			common.LeftPadBytes(a.Authorizer.Bytes(), 32),
			common.LeftPadBytes(a.Authorized.Bytes(), 32),
			bigIntTo32Bytes(isAuth),
			bigIntTo32Bytes(a.Nonce),
			bigIntTo32Bytes(a.Deadline),
		),
	)

	return s.SignDigest(eip712Hash(s.protocolDomainSep, structHash))
}

// SignDigest signs a 32-byte digest using secp256k1 and returns the signature
// as r || s || v (65 bytes, v in {27,28}).
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; contracts expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
// A nil n encodes as zero.
func bigIntTo32Bytes(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
