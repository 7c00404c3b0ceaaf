package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/openlend/lenderd/internal/authz"
	"github.com/openlend/lenderd/internal/cache/redis"
	"github.com/openlend/lenderd/internal/chain"
	"github.com/openlend/lenderd/internal/config"
	"github.com/openlend/lenderd/internal/crypto"
	"github.com/openlend/lenderd/internal/domain"
	"github.com/openlend/lenderd/internal/encoder"
	"github.com/openlend/lenderd/internal/flow"
	"github.com/openlend/lenderd/internal/notify"
	"github.com/openlend/lenderd/internal/solver"
	"github.com/openlend/lenderd/internal/store/postgres"
	"github.com/openlend/lenderd/internal/track"
)

// Dependencies bundles everything the run loop and any embedding caller need
// to drive operations. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Engine     *flow.Engine
	Tracker    *track.Store
	Allowances *authz.AllowanceResolver
	History    domain.HistoryStore
	RecordBus  *redis.RecordBus
	Notifier   *notify.Notifier
	Account    common.Address

	// WatchedTokens is every token the allowance poller keeps fresh: the
	// loan and collateral assets of the configured liquidity sources plus
	// the wrapped native token.
	WatchedTokens []common.Address
	Spenders      []common.Address
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Signing key ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}

	protocol := common.HexToAddress(cfg.Contracts.Protocol)
	bundler := common.HexToAddress(cfg.Contracts.Bundler)
	permitRouter := common.HexToAddress(cfg.Contracts.PermitRouter)
	wrappedNative := common.HexToAddress(cfg.Contracts.WrappedNative)
	feeRecipient := common.HexToAddress(cfg.Contracts.FeeRecipient)

	// --- Chain client (StateReader + Submitter) ---
	chainClient, err := chain.New(ctx, chain.ClientConfig{
		RPCURL:              cfg.Chain.RPCURL,
		ChainID:             cfg.Chain.ChainID,
		Protocol:            protocol,
		PermitRouter:        permitRouter,
		Bundler:             bundler,
		PrivateKeyHex:       key,
		ReceiptPollInterval: cfg.Chain.ReceiptPollInterval.Duration,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)

	signer, err := crypto.NewSigner(key, chainClient.ChainID(), permitRouter, protocol)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	allowanceCache := redis.NewAllowanceCache(redisClient)
	lockManager := redis.NewLockManager(redisClient)
	recordBus := redis.NewRecordBus(redisClient)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	history := postgres.NewHistoryStore(pgClient.Pool())

	// --- Authorization providers ---
	enc := encoder.New(bundler, protocol)

	allowances := authz.NewAllowanceResolver(chainClient, chainClient, allowanceCache, chainClient.ChainID(), logger)
	allowances.SetPollInterval(cfg.Flows.AllowancePollInterval.Duration)

	permits := authz.NewPermitProvider(allowances, chainClient, signer, permitRouter, logger)
	bundlerAuth := authz.NewBundlerAuthProvider(chainClient, chainClient, signer, enc, protocol, bundler, logger)

	// --- Solvers ---
	sources, watched := liquiditySources(ctx, cfg, chainClient, logger)
	realloc := solver.NewReallocationSolver(enc, common.HexToAddress(cfg.Solver.Vault), sources, cfg.Solver.ReallocFeeBps)
	rebalance := solver.NewRebalanceSolver(enc, cfg.Solver.RebalanceFeeBps, feeRecipient)

	// --- Flow driver and engine ---
	tracker := track.NewStore(recordBus, logger)

	var attribution []byte
	if cfg.Flows.Attribution != "" {
		attribution, err = hexutil.Decode(normalizeHex(cfg.Flows.Attribution))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: attribution: %w", err)
		}
	}

	driver := flow.NewDriver(flow.DriverConfig{
		Tracker:     tracker,
		Allowances:  allowances,
		Permits:     permits,
		BundlerAuth: bundlerAuth,
		Encoder:     enc,
		Submitter:   chainClient,
		History:     history,
		Locks:       lockManager,
		Account:     signer.Account(),
		ChainID:     chainClient.ChainID(),
		Attribution: attribution,
	}, logger)
	driver.SetStepDelay(cfg.Flows.SignatureDelay.Duration)
	driver.SetLockTTL(cfg.Flows.LockTTL.Duration)

	engine := flow.NewEngine(flow.EngineConfig{
		Driver:        driver,
		Reader:        chainClient,
		Allowances:    allowances,
		Permits:       permits,
		BundlerAuth:   bundlerAuth,
		Encoder:       enc,
		Realloc:       realloc,
		Rebalance:     rebalance,
		Account:       signer.Account(),
		UsePermit:     cfg.Flows.UsePermit,
		WrappedNative: wrappedNative,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	deps := &Dependencies{
		Engine:        engine,
		Tracker:       tracker,
		Allowances:    allowances,
		History:       history,
		RecordBus:     recordBus,
		Notifier:      notifier,
		Account:       signer.Account(),
		WatchedTokens: append(watched, wrappedNative),
		Spenders:      []common.Address{bundler, permitRouter},
	}
	return deps, cleanup, nil
}

// liquiditySources materializes the configured reallocation sources, reading
// each market's instantaneous idle liquidity from the chain. A source whose
// read fails gets zero idle: it stays known but contributes nothing until the
// next restart. The second return value lists every distinct asset the
// sources touch, for the allowance poller.
func liquiditySources(ctx context.Context, cfg *config.Config, reader domain.StateReader, logger *slog.Logger) ([]domain.LiquiditySource, []common.Address) {
	var (
		sources []domain.LiquiditySource
		watched []common.Address
		seen    = make(map[common.Address]bool)
	)

	for _, sc := range cfg.Solver.Sources {
		market := domain.MarketParams{
			LoanToken:       common.HexToAddress(sc.LoanToken),
			CollateralToken: common.HexToAddress(sc.CollateralToken),
			Oracle:          common.HexToAddress(sc.Oracle),
			IRM:             common.HexToAddress(sc.IRM),
			LLTV:            parseWad(sc.LLTV),
		}

		idle, err := reader.MarketLiquidity(ctx, market)
		if err != nil {
			logger.Warn("liquidity read failed for source, assuming zero idle",
				slog.String("market", market.ID().Hex()),
				slog.String("error", err.Error()),
			)
			idle = new(big.Int)
		}

		sources = append(sources, domain.LiquiditySource{
			Vault:  common.HexToAddress(sc.Vault),
			Market: market,
			Idle:   idle,
		})
		if !seen[market.LoanToken] {
			seen[market.LoanToken] = true
			watched = append(watched, market.LoanToken)
		}
	}

	return sources, watched
}

// parseWad parses a decimal WAD-scaled value, returning zero on malformed
// input. Validation has already rejected empty required fields.
func parseWad(s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// normalizeHex prepends the 0x prefix hexutil requires.
func normalizeHex(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
