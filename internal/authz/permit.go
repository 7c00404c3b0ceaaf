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
)

// permitWindow bounds both the permit expiration and the signature deadline.
const permitWindow = 10 * time.Minute

// PermitSigner is the slice of the wallet signer the permit provider needs.
type PermitSigner interface {
	Account() common.Address
	SignPermit(p crypto.PermitSingle) ([]byte, error)
}

// SignedPermit pairs a signature with the exact payload that was signed. The
// payload must echo byte-for-byte into the encoded approve2 call.
type SignedPermit struct {
	Permit    crypto.PermitSingle
	Signature []byte
}

// PermitProvider wraps the allowance resolver for the canonical permit router
// and produces fresh time-bounded permits. A permit is never persisted or
// reused: each SignPermit reads the current nonce and signs a new payload.
type PermitProvider struct {
	resolver *AllowanceResolver
	reader   domain.StateReader
	signer   PermitSigner
	router   common.Address
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewPermitProvider(
	resolver *AllowanceResolver,
	reader domain.StateReader,
	signer PermitSigner,
	router common.Address,
	logger *slog.Logger,
) *PermitProvider {
	return &PermitProvider{
		resolver: resolver,
		reader:   reader,
		signer:   signer,
		router:   router,
		window:   permitWindow,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "permit")),
	}
}

// Router returns the permit router this provider is bound to.
func (p *PermitProvider) Router() common.Address { return p.router }

// IsPermitAuthorized reports whether the router's allowance strictly exceeds
// the requested amount. Strict: a zero allowance never authorizes a zero
// request.
func (p *PermitProvider) IsPermitAuthorized(ctx context.Context, token common.Address, amount *big.Int) bool {
	allowance := p.resolver.GetAllowance(ctx, token, p.signer.Account(), p.router)
	return allowance.Cmp(amount) > 0
}

// SignPermit reads the router's packed nonce for (owner, token, spender),
// builds a PermitSingle with expiration and signature deadline at now plus
// the fixed window, and signs it.
func (p *PermitProvider) SignPermit(ctx context.Context, token, spender common.Address, amount *big.Int) (SignedPermit, error) {
	packed, err := p.reader.PermitAllowance(ctx, p.signer.Account(), token, spender)
	if err != nil {
		return SignedPermit{}, fmt.Errorf("authz: permit nonce read: %w", err)
	}

	// A nil amount signs as zero rather than panicking; callers skip the
	// permit steps for pull-free operations, so this is pure defense.
	amt := new(big.Int)
	if amount != nil {
		amt.Set(amount)
	}

	deadline := p.now().Add(p.window).Unix()
	permit := crypto.PermitSingle{
		Token:       token,
		Amount:      amt,
		Expiration:  deadline,
		Nonce:       packed.Nonce,
		Spender:     spender,
		SigDeadline: big.NewInt(deadline),
	}

	sig, err := p.signer.SignPermit(permit)
	if err != nil {
		return SignedPermit{}, fmt.Errorf("authz: %w: %v", domain.ErrSigningFailed, err)
	}

	p.logger.Debug("permit signed",
		slog.String("token", token.Hex()),
		slog.Uint64("nonce", permit.Nonce),
		slog.Int64("deadline", deadline),
	)
	return SignedPermit{Permit: permit, Signature: sig}, nil
}
