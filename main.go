package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"binance-spot-executor/config"
	"binance-spot-executor/internal/api"
	"binance-spot-executor/internal/binance"
	"binance-spot-executor/internal/database"
	"binance-spot-executor/internal/events"
	"binance-spot-executor/internal/executor"
	"binance-spot-executor/internal/logging"
	"binance-spot-executor/internal/oracle"
	"binance-spot-executor/internal/position"
	"binance-spot-executor/internal/trading"
	"binance-spot-executor/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize structured logging
	logger, closer, err := logging.New(logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closer.Close()
	logging.SetDefault(logger)
	log := logging.WithComponent(logger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Exchange credentials from Vault take precedence over config
	var vaultHealth api.HealthCheck
	if cfg.VaultConfig.Enabled && !cfg.BinanceConfig.MockMode {
		vc, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return err
		}
		vaultHealth = vc.Health
		creds, err := vc.ExchangeCredentials(ctx, "binance", cfg.BinanceConfig.TestNet)
		if err != nil {
			return fmt.Errorf("failed to load exchange credentials: %w", err)
		}
		cfg.BinanceConfig.APIKey = creds.APIKey
		cfg.BinanceConfig.SecretKey = creds.SecretKey
		log.Info().Str("address", cfg.VaultConfig.Address).Msg("Exchange credentials loaded from Vault")
	}

	if !cfg.BinanceConfig.MockMode && !cfg.BinanceConfig.HasCredentials() {
		return errors.New("binance credentials are required unless mock mode or vault is enabled")
	}

	eventBus := events.NewEventBus()
	eventBus.SubscribeAll(func(e events.Event) {
		if e.Type == events.EventPendingOrdersChanged {
			return
		}
		log.Debug().Str("event", string(e.Type)).Interface("data", e.Data).Msg("Event")
	})

	// Exchange and price feed
	var (
		client binance.BinanceClient
		stream trading.PriceStreamer
	)
	if cfg.BinanceConfig.MockMode {
		mock := binance.NewMockClient(cfg.BinanceConfig.QuoteAsset, cfg.BinanceConfig.MockBalance)
		client = mock
		stream = binance.NewPollingPriceStream(mock, cfg.SchedulerConfig.PollInterval, logger)
		log.Warn().Float64("balance", cfg.BinanceConfig.MockBalance).Msg("Mock mode: orders are simulated")
	} else {
		client = binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, cfg.BinanceConfig.BaseURL)
		stream = binance.NewTradeStream(cfg.BinanceConfig.StreamURL, logger)
	}
	exchange := binance.NewExchange(client, cfg.BinanceConfig.QuoteAsset)

	// Ledger
	ledger, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	// Pending orders: Redis shares the set across instances, otherwise the
	// ledger's store publishes snapshots on the in-process bus
	var (
		pending   trading.PendingOrderStore
		snapshots executor.SnapshotSource
		redisPing api.HealthCheck
		watch     func(func(trading.PendingSnapshot))
	)
	if cfg.RedisConfig.Enabled {
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisStore := database.NewRedisPendingStore(rdb, logger)
		pending, snapshots = redisStore, redisStore
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		watch = func(fn func(trading.PendingSnapshot)) {
			go func() {
				if err := redisStore.Watch(ctx, fn); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("Pending order watcher stopped")
				}
			}()
		}
	} else {
		notifying := database.NewNotifyingPendingStore(ledger.pending, eventBus)
		pending, snapshots = notifying, notifying
		watch = func(fn func(trading.PendingSnapshot)) { eventBus.SubscribePendingOrders(fn) }
	}

	// Prediction oracle
	var predictor trading.Oracle
	if cfg.OracleConfig.Enabled && cfg.OracleConfig.APIKey != "" {
		llm := oracle.NewClient(oracle.ClientConfig{
			Provider:    oracle.Provider(cfg.OracleConfig.Provider),
			APIKey:      cfg.OracleConfig.APIKey,
			Model:       cfg.OracleConfig.Model,
			MaxTokens:   cfg.OracleConfig.MaxTokens,
			Temperature: cfg.OracleConfig.Temperature,
			Timeout:     cfg.OracleConfig.Timeout,
			Endpoint:    cfg.OracleConfig.Endpoint,
		})
		predictor = oracle.NewService(llm, cfg.OracleConfig.ZigZagWindow, logger)
		log.Info().Str("provider", cfg.OracleConfig.Provider).Str("model", cfg.OracleConfig.Model).Msg("Prediction oracle enabled")
	} else {
		log.Warn().Msg("Prediction oracle disabled: rejected buys will not create pending orders")
	}

	engine := position.NewEngine(position.Config{
		QuoteAsset:        cfg.BinanceConfig.QuoteAsset,
		AllocationDivisor: cfg.EngineConfig.AllocationDivisor,
		FeeRate:           cfg.EngineConfig.FeeRate,
		BreakEvenSlack:    cfg.EngineConfig.BreakEvenSlack,
		MaxCoef:           cfg.EngineConfig.MaxCoef,
		CandleInterval:    cfg.EngineConfig.CandleInterval,
		CandleLimit:       cfg.EngineConfig.CandleLimit,
		Shrink:            cfg.EngineConfig.Shrink,
	}, position.Deps{
		Exchange: exchange,
		Lots:     ledger.lots,
		Ghosts:   ledger.ghosts,
		Pending:  pending,
		Audit:    ledger.audit,
		Oracle:   predictor,
	}, logger)

	scheduler := executor.NewScheduler(executor.Config{
		EntryNotionalMultiplier: cfg.SchedulerConfig.EntryNotionalMultiplier,
	}, exchange, stream, pending, ledger.audit, eventBus, logger)
	watch(scheduler.Apply)
	if err := scheduler.Start(ctx, snapshots); err != nil {
		return fmt.Errorf("failed to start execution scheduler: %w", err)
	}
	defer scheduler.Stop()

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: !cfg.BinanceConfig.MockMode,
		AllowedOrigins: cfg.ServerConfig.Origins(),
		PassphraseHash: cfg.ServerConfig.PassphraseHash,
		ReadTimeout:    time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		Shrink:         cfg.EngineConfig.Shrink,
	}, engine, ledger.lots, pending, logger)
	if ledger.health != nil {
		server.AddHealthCheck("database", ledger.health)
	}
	if redisPing != nil {
		server.AddHealthCheck("redis", redisPing)
	}
	if vaultHealth != nil {
		server.AddHealthCheck("vault", vaultHealth)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	log.Info().
		Bool("mock_mode", cfg.BinanceConfig.MockMode).
		Bool("postgres", cfg.DatabaseConfig.Enabled).
		Bool("redis", cfg.RedisConfig.Enabled).
		Str("quote", cfg.BinanceConfig.QuoteAsset).
		Msg("Spot executor started")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	return nil
}

// ledgerStores groups the ledger behind its collaborator interfaces
type ledgerStores struct {
	lots    trading.LotStore
	ghosts  trading.GhostStore
	pending trading.PendingOrderStore
	audit   trading.AuditLog
	health  api.HealthCheck
}

// openLedger returns the PostgreSQL ledger when enabled, else an in-memory one
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledgerStores, func(), error) {
	if !cfg.DatabaseConfig.Enabled {
		logger.Warn().Str("component", "Ledger").Msg("PostgreSQL disabled: ledger is in-memory and lost on restart")
		mem := database.NewMemoryStore()
		return ledgerStores{lots: mem, ghosts: mem, pending: mem, audit: mem}, func() {}, nil
	}

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Name,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
		MaxConns: int32(cfg.DatabaseConfig.MaxConns),
	}, logger)
	if err != nil {
		return ledgerStores{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return ledgerStores{}, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo := database.NewRepository(db)
	return ledgerStores{
		lots:    repo,
		ghosts:  repo,
		pending: repo,
		audit:   repo,
		health:  db.HealthCheck,
	}, db.Close, nil
}
