// Package main provides the main entry point for the Simurgh settlement engine
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sepehrx/simurgh/app/scheduler"
	"github.com/sepehrx/simurgh/app/services"
	businessflow "github.com/sepehrx/simurgh/business_flow"
	"github.com/sepehrx/simurgh/config"
	"github.com/sepehrx/simurgh/models"
	"github.com/sepehrx/simurgh/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application holds the wired settlement engine
type Application struct {
	config    *config.Config
	db        *gorm.DB
	rdb       *redis.Client
	crypto    businessflow.CryptoPaymentFlow
	card      businessflow.CardPaymentFlow
	stopFuncs []func()
}

func main() {
	log.Println("Starting Simurgh settlement engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	metricsServer := app.startMetricsServer()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down gracefully...")

	cancel()
	for _, stop := range app.stopFuncs {
		stop()
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown: %v", err)
		}
	}

	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if sqlDB, err := app.db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Println("Shutdown complete")
}

func initializeApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Repositories
	customerRepo := repository.NewCustomerRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	ledgerRepo := repository.NewLedgerTransactionRepository(db)
	requestRepo := repository.NewPaymentRequestRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// External services
	serviceLogger := scheduler.NewSchedulerLogger("services", cfg.Logging.Dir)
	chain, err := services.NewEthChainClient(ctx, cfg.Chain.RPCURL, serviceLogger)
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}

	oracle := services.NewCachedRateOracle(services.RateOracleConfig{
		BaseURL:  cfg.Oracle.BaseURL,
		APIKey:   cfg.Oracle.APIKey,
		Symbol:   cfg.Oracle.Symbol,
		Currency: cfg.Oracle.Currency,
		Timeout:  cfg.Oracle.Timeout,
		CacheTTL: cfg.Oracle.CacheTTL,
	}, rdb, serviceLogger)

	emailProvider := services.NewSMTPEmailProvider(
		cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.FromEmail)

	var chatProvider services.ChatProvider
	if cfg.Bot.BaseURL != "" && cfg.Bot.Token != "" {
		chatProvider = services.NewBotChatProvider(cfg.Bot.BaseURL, cfg.Bot.Token, &http.Client{Timeout: 15 * time.Second})
	}

	notifier := services.NewNotificationService(emailProvider, chatProvider, cfg.Email.OpsEmail, serviceLogger)
	keygen := services.NewKeyGenerator()

	// Business flows
	engineLogger := scheduler.NewSchedulerLogger("engine", cfg.Logging.Dir)
	engine := businessflow.NewConfirmationEngine(
		walletRepo, ledgerRepo, customerRepo, auditRepo,
		chain, oracle, notifier, db, engineLogger, cfg.Chain.BlockWindow)

	cryptoFlow := businessflow.NewCryptoPaymentFlow(
		walletRepo, ledgerRepo, customerRepo, auditRepo,
		engine, keygen, oracle, db, engineLogger,
		cfg.Settlement.MinFiatAmount, cfg.Settlement.WalletTTL)

	cardFlow := businessflow.NewCardPaymentFlow(
		requestRepo, customerRepo, auditRepo, notifier, db, engineLogger,
		cfg.Gateway.Secret, cfg.Gateway.MinAmount, cfg.Gateway.RequestTTL)

	app := &Application{
		config: cfg,
		db:     db,
		rdb:    rdb,
		crypto: cryptoFlow,
		card:   cardFlow,
	}

	// Background loops
	monitor := scheduler.NewDepositMonitor(walletRepo, engine, chain,
		cfg.Settlement.MonitorInterval, cfg.Settlement.MonitorWorkers,
		scheduler.NewSchedulerLogger("monitor", cfg.Logging.Dir))
	app.stopFuncs = append(app.stopFuncs, monitor.Start(ctx))

	sweeper := scheduler.NewSweepScheduler(walletRepo, ledgerRepo, auditRepo, chain, notifier,
		cfg.Chain.MainWalletAddress, cfg.Settlement.SweepInterval,
		scheduler.NewSchedulerLogger("sweeper", cfg.Logging.Dir))
	app.stopFuncs = append(app.stopFuncs, sweeper.Start(ctx))

	reaper := scheduler.NewExpiryReaper(walletRepo, customerRepo, auditRepo, notifier,
		scheduler.NewSchedulerLogger("reaper", cfg.Logging.Dir))
	stopReaper, err := reaper.Start(ctx)
	if err != nil {
		return nil, err
	}
	app.stopFuncs = append(app.stopFuncs, stopReaper)

	return app, nil
}

func connectDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Customer{},
		&models.Wallet{},
		&models.LedgerTransaction{},
		&models.PaymentRequest{},
		&models.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

func (a *Application) startMetricsServer() *http.Server {
	if !a.config.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    a.config.Metrics.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("Metrics server listening on %s", a.config.Metrics.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	return server
}
