package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"solana-trading-bot/config"
	"solana-trading-bot/internal/api"
	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/decision"
	"solana-trading-bot/internal/events"
	"solana-trading-bot/internal/executor"
	"solana-trading-bot/internal/logging"
	"solana-trading-bot/internal/metrics"
	"solana-trading-bot/internal/notification"
	"solana-trading-bot/internal/rpc"
	"solana-trading-bot/internal/sentinel"
	"solana-trading-bot/internal/vault"
	"solana-trading-bot/internal/wallet"
)

func main() {
	// Load .env before anything reads the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event bus
	eventBus := events.NewEventBus()

	// Notification manager
	var notifyManager *notification.Manager
	if cfg.NotificationConfig.Enabled {
		notifyManager = notification.NewManager()
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  cfg.NotificationConfig.Telegram.Enabled,
			}))
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    cfg.NotificationConfig.Discord.Enabled,
			}))
		}
		notifyManager.BindEventBus(eventBus)
		logger.Info("Notification manager initialized")
	}

	// Position store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	})
	store := database.NewRedisStore(redisClient)
	if err := store.HealthCheck(ctx); err != nil {
		logger.Fatal("Position store unreachable", "error", err)
	}
	logger.Info("Position store connected", "address", cfg.RedisConfig.Address)

	// Audit database (optional)
	var audit executor.AuditTrail = executor.NoopAudit{}
	var attemptReader api.AttemptReader
	if cfg.PostgresConfig.Enabled() {
		db, err := database.NewDB(database.PostgresConfig{
			Host:     cfg.PostgresConfig.Host,
			Port:     cfg.PostgresConfig.Port,
			User:     cfg.PostgresConfig.User,
			Password: cfg.PostgresConfig.Password,
			Database: cfg.PostgresConfig.Database,
			SSLMode:  cfg.PostgresConfig.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to connect to audit database", "error", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal("Audit database migrations failed", "error", err)
		}
		repo := database.NewAuditRepository(db, zlog)
		audit = repo
		attemptReader = repo
		logger.Info("Audit database connected", "host", cfg.PostgresConfig.Host)
	} else {
		logger.Warn("Audit database not configured, attempt history disabled")
	}

	// Signing wallet, from Vault or environment
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal("Failed to initialize Vault client", "error", err)
	}
	signer, err := wallet.Load(ctx, vaultClient, cfg.WalletConfig.SecretName)
	if err != nil {
		logger.Fatal("Failed to load signing wallet", "error", err)
	}
	logger.Info("Signing wallet loaded", "address", signer.Address())

	// RPC endpoint pool
	endpoints := make([]*rpc.Endpoint, 0, len(cfg.RPCConfig.Endpoints))
	for _, ec := range cfg.RPCConfig.Endpoints {
		endpoints = append(endpoints, rpc.NewEndpoint(ec.Name, ec.URL))
	}
	rpcClient := rpc.NewClient(cfg.RPCConfig.RequestTimeout)
	rpcManager, err := rpc.NewManager(endpoints, rpc.ManagerConfig{
		DegradedAfter:  cfg.RPCConfig.DegradedAfter,
		UnhealthyAfter: cfg.RPCConfig.UnhealthyAfter,
		ProbeTimeout:   cfg.RPCConfig.ProbeTimeout,
	}, rpcClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize endpoint manager", "error", err)
	}
	logger.Info("Endpoint manager initialized", "endpoints", len(endpoints))

	// Market data stream
	var prices rpc.PriceSource
	var priceFeed *rpc.PriceFeed
	if cfg.PriceFeedConfig.URL != "" {
		priceFeed = rpc.NewPriceFeed(cfg.PriceFeedConfig.URL, logger)
		prices = priceFeed
	} else {
		logger.Warn("Price feed not configured, positions rely on externally refreshed quotes")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	m.BindEventBus(eventBus)

	// Execution engine
	exec := executor.New(store, audit, executor.NewRPCNetwork(rpcManager, rpcClient), signer, eventBus, zlog, executor.Config{
		MaxAttempts:    cfg.ExecutorConfig.MaxAttempts,
		ConfirmTimeout: cfg.ExecutorConfig.ConfirmTimeout,
		PollInterval:   cfg.ExecutorConfig.PollInterval,
		Fees: executor.FeeConfig{
			BaseTipLamports:         cfg.ExecutorConfig.BaseTipLamports,
			MaxTipLamports:          cfg.ExecutorConfig.MaxTipLamports,
			TradeValueBps:           1,
			CongestionBaseline:      10_000,
			MaxCongestionMultiplier: cfg.ExecutorConfig.MaxCongestionMultiplier,
			HardExitMultiplier:      cfg.ExecutorConfig.HardExitMultiplier,
			SoftExitMultiplier:      cfg.ExecutorConfig.SoftExitMultiplier,
			EscalationFactor:        cfg.ExecutorConfig.EscalationFactor,
		},
	})

	// Decision engine and control loop
	engine := decision.NewEngine(decision.Config{
		StalePriceAfter: cfg.DecisionConfig.StalePriceAfter,
	})
	loop := sentinel.New(store, engine, exec, prices, rpcManager, eventBus, m, logger, sentinel.Config{
		TickInterval:        cfg.SentinelConfig.TickInterval,
		MaxConcurrentExits:  cfg.SentinelConfig.MaxConcurrentExits,
		PriceWorkers:        cfg.SentinelConfig.PriceWorkers,
		HealthcheckInterval: cfg.SentinelConfig.HealthcheckInterval,
	})

	// Operator API
	server := api.NewServer(store, attemptReader, rpcManager, registry, logger, api.Config{
		Port:           cfg.ServerConfig.Port,
		AllowedOrigins: cfg.ServerConfig.AllowedOriginList(),
	})

	g, gctx := errgroup.WithContext(ctx)
	if priceFeed != nil {
		g.Go(func() error {
			priceFeed.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	logger.Info("Position sentinel running",
		"tick_interval", cfg.SentinelConfig.TickInterval.String(),
		"endpoints", len(endpoints),
		"port", cfg.ServerConfig.Port)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Shutdown with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
