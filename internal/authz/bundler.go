package authz

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlend/lenderd/internal/crypto"
	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// authWindow bounds the deadline of a signed account-level authorization.
const authWindow = 10 * time.Minute

// AuthStatus is the tri-state result of an authorization check. Unknown means
// the read has not resolved; callers must not treat it as Unauthorized.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota
	AuthGranted
	AuthRevoked
)

// AuthSigner is the slice of the wallet signer the provider needs.
type AuthSigner interface {
	Account() common.Address
	SignAuthorization(a crypto.Authorization) ([]byte, error)
}

// BundlerAuthProvider manages the one-time per-account authorization that
// lets the bundler act on the account's positions, via either a signed
// message folded into the batch or a standalone transaction.
type BundlerAuthProvider struct {
	reader    domain.StateReader
	submitter domain.Submitter
	signer    AuthSigner
	enc       *encoder.Encoder
	protocol  common.Address
	bundler   common.Address
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewBundlerAuthProvider(
	reader domain.StateReader,
	submitter domain.Submitter,
	signer AuthSigner,
	enc *encoder.Encoder,
	protocol, bundler common.Address,
	logger *slog.Logger,
) *BundlerAuthProvider {
	return &BundlerAuthProvider{
		reader:    reader,
		submitter: submitter,
		signer:    signer,
		enc:       enc,
		protocol:  protocol,
		bundler:   bundler,
		window:    authWindow,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "bundler_auth")),
	}
}

// Status reads the current authorization flag. A failed read yields
// AuthUnknown, never AuthRevoked.
func (b *BundlerAuthProvider) Status(ctx context.Context) AuthStatus {
	authorized, err := b.reader.IsAuthorized(ctx, b.signer.Account(), b.bundler)
	if err != nil {
		b.logger.Warn("authorization read failed", slog.String("error", err.Error()))
		return AuthUnknown
	}
	if authorized {
		return AuthGranted
	}
	return AuthRevoked
}

// AuthorizeViaSignature returns the encoded setAuthorizationWithSig call to
// prepend to a batch, or nil when the account is already authorized. The
// caller omits a nil call from the batch.
func (b *BundlerAuthProvider) AuthorizeViaSignature(ctx context.Context) (*domain.Call, error) {
	switch b.Status(ctx) {
	case AuthGranted:
		return nil, nil
	case AuthUnknown:
		return nil, fmt.Errorf("authz: %w: authorization flag unread", domain.ErrAuthzNotReady)
	}

	nonce, err := b.reader.AuthorizationNonce(ctx, b.signer.Account())
	if err != nil {
		return nil, fmt.Errorf("authz: %w: nonce read: %v", domain.ErrAuthzNotReady, err)
	}

	auth := crypto.Authorization{
		Authorizer:   b.signer.Account(),
		Authorized:   b.bundler,
		IsAuthorized: true,
		Nonce:        nonce,
		Deadline:     big.NewInt(b.now().Add(b.window).Unix()),
	}

	sig, err := b.signer.SignAuthorization(auth)
	if err != nil {
		return nil, fmt.Errorf("authz: %w: %v", domain.ErrSigningFailed, err)
	}

	call := b.enc.SetAuthorizationWithSig(auth, sig, false)
	return &call, nil
}

// AuthorizeViaTransaction drives the flag to `desired` with a standalone
// transaction. Idempotent in both directions: when the chain already matches,
// it returns immediately without submitting. After one confirmation it
// re-reads the flag and fails with ErrAuthzDesync when the post-confirmation
// state does not match, which indicates a lagging RPC node rather than a
// rejected action.
func (b *BundlerAuthProvider) AuthorizeViaTransaction(ctx context.Context, desired bool) error {
	current, err := b.reader.IsAuthorized(ctx, b.signer.Account(), b.bundler)
	if err != nil {
		return fmt.Errorf("authz: %w: pre-check read: %v", domain.ErrAuthzNotReady, err)
	}
	if current == desired {
		return nil
	}

	hash, err := b.submitter.Submit(ctx, domain.TxRequest{
		To:   b.protocol,
		Data: encoder.SetAuthorizationCalldata(b.bundler, desired),
	})
	if err != nil {
		return fmt.Errorf("authz: set authorization: %w", err)
	}

	if err := b.submitter.WaitMined(ctx, hash); err != nil {
		return fmt.Errorf("authz: authorization confirmation: %w", err)
	}

	after, err := b.reader.IsAuthorized(ctx, b.signer.Account(), b.bundler)
	if err != nil {
		return fmt.Errorf("authz: post-confirmation read: %w", err)
	}
	if after != desired {
		return fmt.Errorf("authz: %w: flag is %v after %s", domain.ErrAuthzDesync, after, hash.Hex())
	}

	b.logger.Info("bundler authorization updated",
		slog.Bool("authorized", desired),
		slog.String("tx", hash.Hex()),
	)
	return nil
}
