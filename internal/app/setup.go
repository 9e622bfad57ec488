package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/betcore/sprintbet/internal/admission"
	"github.com/betcore/sprintbet/internal/execution"
	"github.com/betcore/sprintbet/internal/gateway"
	"github.com/betcore/sprintbet/internal/ledger"
	"github.com/betcore/sprintbet/internal/oracle"
	"github.com/betcore/sprintbet/internal/router"
	"github.com/betcore/sprintbet/internal/settlement"
	"github.com/betcore/sprintbet/internal/storage"
	"github.com/betcore/sprintbet/pkg/cache"
	"github.com/betcore/sprintbet/pkg/config"
	"github.com/betcore/sprintbet/pkg/healthprobe"
	"github.com/betcore/sprintbet/pkg/httpserver"
	"github.com/betcore/sprintbet/pkg/wallet"
	"github.com/betcore/sprintbet/pkg/websocket"
)

// New builds the application component graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg.PolymarketPrivateKey == "" {
		return nil, fmt.Errorf("POLYMARKET_PRIVATE_KEY is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	store, err := setupStore(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup store: %w", err)
	}

	book, err := ledger.Open(ctx, &ledger.Config{
		Logger:             logger,
		Store:              store,
		InitialBankrollUSD: cfg.InitialBankrollUSD,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	gate, err := admission.New(&admission.Config{
		Logger:           logger,
		Ledger:           book,
		MaxOpenPositions: cfg.MaxOpenPositions,
		Cooldown:         cfg.AdmissionCooldown,
		BlockGrace:       cfg.BlockGrace,
		BoosterMaxPerID:  cfg.BoosterMaxPerID,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create admission gate: %w", err)
	}

	bookCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	feed := setupFeed(cfg, logger)

	gw := gateway.New(&gateway.Config{
		CLOBBaseURL: cfg.ClobBaseURL,
		Feed:        feed,
		Cache:       bookCache,
		Freshness:   cfg.BookFreshness,
		Timeout:     cfg.BookFetchTimeout,
		Logger:      logger,
	})

	orders, err := execution.NewClient(&execution.Config{
		BaseURL:       cfg.ClobBaseURL,
		APIKey:        cfg.PolymarketAPIKey,
		Secret:        cfg.PolymarketSecret,
		Passphrase:    cfg.PolymarketPassphrase,
		PrivateKey:    cfg.PolymarketPrivateKey,
		ProxyAddress:  cfg.FunderAddress,
		SignatureType: cfg.SignatureType,
		Logger:        logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create order client: %w", err)
	}

	orderRouter := router.New(&router.Config{
		Books:  gw,
		Orders: orders,
		Stats:  book,
		Cfg:    cfg,
		Logger: logger,
	})

	chain, err := oracle.Dial(ctx, &oracle.Config{
		RPCURL:     cfg.PolygonRPCURL,
		PrivateKey: cfg.PolymarketPrivateKey,
		Logger:     logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	tracker, err := setupWalletTracker(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create wallet tracker: %w", err)
	}

	reconciler := settlement.New(&settlement.Config{
		Chain:        chain,
		Ledger:       book,
		PollInterval: cfg.SettlePollInterval,
		Strict:       cfg.SettleStrict,
		WaitLogEvery: cfg.SettleWaitLogEvery,
		Logger:       logger,
	})

	engine := NewEngine(&EngineConfig{
		Gate:   gate,
		Router: orderRouter,
		Ledger: book,
		Books:  gw,
		Logger: logger,
	})

	healthChecker := healthprobe.New()

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Engine:        engine,
		Positions:     book,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		feed:          feed,
		gateway:       gw,
		store:         store,
		ledger:        book,
		gate:          gate,
		orders:        orders,
		chain:         chain,
		router:        orderRouter,
		reconciler:    reconciler,
		tracker:       tracker,
		engine:        engine,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.StorageMode == "postgres" {
		pgStore, err := storage.NewPostgresStore(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres store: %w", err)
		}
		return pgStore, nil
	}

	return storage.NewMemoryStore(logger), nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max items (book + tick per token)
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupWalletTracker(cfg *config.Config, logger *zap.Logger) (*wallet.Tracker, error) {
	address := cfg.FunderAddress
	if address == "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PolymarketPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("error casting public key to ECDSA")
		}
		address = crypto.PubkeyToAddress(*publicKey).Hex()
	}

	return wallet.New(&wallet.Config{
		RPCEndpoint:  cfg.PolygonRPCURL,
		Address:      common.HexToAddress(address),
		PollInterval: cfg.WalletPollInterval,
		Logger:       logger,
	})
}

func setupFeed(cfg *config.Config, logger *zap.Logger) *websocket.Client {
	return websocket.NewClient(websocket.Config{
		URL:               cfg.PolymarketWSURL,
		DialTimeout:       cfg.WSDialTimeout,
		PingInterval:      cfg.WSPingInterval,
		PongTimeout:       cfg.WSPongTimeout,
		MessageBufferSize: cfg.WSMessageBufferSize,
		Backoff: websocket.BackoffConfig{
			InitialDelay: cfg.WSReconnectInitialDelay,
			MaxDelay:     cfg.WSReconnectMaxDelay,
			Multiplier:   cfg.WSReconnectBackoffMult,
			Jitter:       0.2,
		},
		Logger: logger,
	})
}
