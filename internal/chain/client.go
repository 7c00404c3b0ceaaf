// Package chain implements the on-chain read and submission collaborators on
// top of go-ethereum's RPC client. All calls are parameterized by the client's
// configured chain id; there is no default chain.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
)

// ClientConfig carries everything needed to talk to one chain deployment.
type ClientConfig struct {
	RPCURL       string
	ChainID      int64
	Protocol     common.Address // lending protocol singleton
	PermitRouter common.Address // permit2-style router
	Bundler      common.Address // batching contract

	// PrivateKeyHex enables transaction submission. Read-only clients may
	// leave it empty.
	PrivateKeyHex string

	// ReceiptPollInterval defaults to 2s when zero.
	ReceiptPollInterval time.Duration
}

// Client implements domain.StateReader and domain.Submitter.
type Client struct {
	ec           *ethclient.Client
	chainID      *big.Int
	protocol     common.Address
	permitRouter common.Address
	bundler      common.Address

	key     *ecdsa.PrivateKey
	account common.Address

	receiptPoll time.Duration
	logger      *slog.Logger
}

// New dials the RPC endpoint and verifies the remote chain id matches the
// configured one, so a misconfigured endpoint fails at startup instead of at
// the first signed transaction.
func New(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", cfg.RPCURL, err)
	}

	remote, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: reading chain id: %w", err)
	}
	if remote.Int64() != cfg.ChainID {
		ec.Close()
		return nil, fmt.Errorf("chain: endpoint reports chain %d, config says %d", remote.Int64(), cfg.ChainID)
	}

	c := &Client{
		ec:           ec,
		chainID:      big.NewInt(cfg.ChainID),
		protocol:     cfg.Protocol,
		permitRouter: cfg.PermitRouter,
		bundler:      cfg.Bundler,
		receiptPoll:  cfg.ReceiptPollInterval,
		logger:       logger.With(slog.String("component", "chain"), slog.Int64("chain_id", cfg.ChainID)),
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = 2 * time.Second
	}

	if cfg.PrivateKeyHex != "" {
		pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("chain: invalid private key: %w", err)
		}
		c.key = pk
		c.account = ethcrypto.PubkeyToAddress(pk.PublicKey)
	}

	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.ec.Close() }

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Account returns the submitting account, zero when read-only.
func (c *Client) Account() common.Address { return c.account }

// ---------------------------------------------------------------------------
// Reads (domain.StateReader)
// ---------------------------------------------------------------------------

func (c *Client) ethCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// word extracts the i-th 32-byte word of a return blob.
func word(ret []byte, i int) ([]byte, error) {
	if len(ret) < (i+1)*32 {
		return nil, fmt.Errorf("chain: short return data: %d bytes, want word %d", len(ret), i)
	}
	return ret[i*32 : (i+1)*32], nil
}

func uintWord(ret []byte, i int) (*big.Int, error) {
	w, err := word(ret, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	ret, err := c.ethCall(ctx, token, encoder.AllowanceCalldata(owner, spender))
	if err != nil {
		return nil, fmt.Errorf("chain: allowance read: %w", err)
	}
	return uintWord(ret, 0)
}

func (c *Client) PermitAllowance(ctx context.Context, owner, token, spender common.Address) (domain.PermitAllowance, error) {
	ret, err := c.ethCall(ctx, c.permitRouter, encoder.PermitAllowanceCalldata(owner, token, spender))
	if err != nil {
		return domain.PermitAllowance{}, fmt.Errorf("chain: permit allowance read: %w", err)
	}
	amount, err := uintWord(ret, 0)
	if err != nil {
		return domain.PermitAllowance{}, err
	}
	expiration, err := uintWord(ret, 1)
	if err != nil {
		return domain.PermitAllowance{}, err
	}
	nonce, err := uintWord(ret, 2)
	if err != nil {
		return domain.PermitAllowance{}, err
	}
	return domain.PermitAllowance{
		Amount:     amount,
		Expiration: expiration.Int64(),
		Nonce:      nonce.Uint64(),
	}, nil
}

func (c *Client) IsAuthorized(ctx context.Context, authorizer, authorized common.Address) (bool, error) {
	ret, err := c.ethCall(ctx, c.protocol, encoder.IsAuthorizedCalldata(authorizer, authorized))
	if err != nil {
		return false, fmt.Errorf("chain: authorization read: %w", err)
	}
	v, err := uintWord(ret, 0)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

func (c *Client) AuthorizationNonce(ctx context.Context, account common.Address) (*big.Int, error) {
	ret, err := c.ethCall(ctx, c.protocol, encoder.NonceCalldata(account))
	if err != nil {
		return nil, fmt.Errorf("chain: nonce read: %w", err)
	}
	return uintWord(ret, 0)
}

// MarketLiquidity returns totalSupplyAssets - totalBorrowAssets, the amount
// instantaneously borrowable from the market.
func (c *Client) MarketLiquidity(ctx context.Context, market domain.MarketParams) (*big.Int, error) {
	ret, err := c.ethCall(ctx, c.protocol, encoder.MarketCalldata(market.ID()))
	if err != nil {
		return nil, fmt.Errorf("chain: market read: %w", err)
	}
	totalSupply, err := uintWord(ret, 0)
	if err != nil {
		return nil, err
	}
	totalBorrow, err := uintWord(ret, 2)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(totalSupply, totalBorrow), nil
}

func (c *Client) Position(ctx context.Context, market domain.MarketParams, account common.Address) (domain.Position, error) {
	ret, err := c.ethCall(ctx, c.protocol, encoder.PositionCalldata(market.ID(), account))
	if err != nil {
		return domain.Position{}, fmt.Errorf("chain: position read: %w", err)
	}
	supplyShares, err := uintWord(ret, 0)
	if err != nil {
		return domain.Position{}, err
	}
	borrowShares, err := uintWord(ret, 1)
	if err != nil {
		return domain.Position{}, err
	}
	collateral, err := uintWord(ret, 2)
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{
		SupplyShares: supplyShares,
		BorrowShares: borrowShares,
		Collateral:   collateral,
	}, nil
}

// ---------------------------------------------------------------------------
// Submission (domain.Submitter)
// ---------------------------------------------------------------------------

// Submit signs and broadcasts a transaction. Gas is estimated when the
// request does not pin a limit.
func (c *Client) Submit(ctx context.Context, req domain.TxRequest) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("chain: submit: client is read-only")
	}
	if req.ChainID != nil && req.ChainID.Cmp(c.chainID) != 0 {
		return common.Hash{}, fmt.Errorf("chain: submit: request targets chain %s, client is on %s", req.ChainID, c.chainID)
	}

	nonce, err := c.ec.PendingNonceAt(ctx, c.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
	}

	tipCap, err := c.ec.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := c.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: head: %w", err)
	}
	// baseFee*2 + tip leaves headroom for two full base-fee increases.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	gas := req.Gas
	if gas == 0 {
		gas, err = c.ec.EstimateGas(ctx, ethereum.CallMsg{
			From:  c.account,
			To:    &req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: gas estimate: %w", err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &req.To,
		Value:     req.Value,
		Data:      req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: signing tx: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: sending tx: %w", err)
	}

	c.logger.Info("transaction submitted",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", req.To.Hex()),
		slog.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

// WaitMined polls for the receipt at a fixed interval until the context is
// done. A mined-but-reverted transaction is an error.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: transaction %s reverted", hash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.StateReader = (*Client)(nil)
	_ domain.Submitter   = (*Client)(nil)
)
