package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"satshunt/config"
	httpHandler "satshunt/internal/adapter/http/handler"
	"satshunt/internal/adapter/payer"
	pgStorage "satshunt/internal/adapter/storage/postgres"
	redisStorage "satshunt/internal/adapter/storage/redis"
	"satshunt/internal/core/ports"
	"satshunt/internal/service"
	"satshunt/pkg/logger"
	"satshunt/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("satshunt", cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting SatsHunt")

	ctx := context.Background()

	// Run migrations before opening the pool
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(ctx, cfg.Database, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	locationRepo := pgStorage.NewLocationRepo(pool)
	cardRepo := pgStorage.NewCardRepo(pool)
	scanRepo := pgStorage.NewScanRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	withdrawalRepo := pgStorage.NewWithdrawalRepo(pool)
	donationRepo := pgStorage.NewDonationRepo(pool)
	userRepo := pgStorage.NewUserRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	challengeStore := redisStorage.NewChallengeStore(rdb)
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize core services
	keySvc, err := service.NewCMACKeyService(cfg.Cards.MasterSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize card key service")
	}
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize external payer client
	payerSvc := payer.NewHTTPPayer(cfg.Payer.BaseURL, cfg.Payer.APIKey, nil, log)
	resolver := service.NewAddressResolver(&http.Client{Timeout: 10 * time.Second})

	// Initialize business services
	tagAuthSvc := service.NewTagAuthService(cardRepo, locationRepo, scanRepo, keySvc, transactor, m, log)
	ledgerSvc := service.NewLedgerService(locationRepo, ledgerRepo, withdrawalRepo, scanRepo, transactor, cfg.Throttle.TimeToFull, m, log)
	withdrawSvc := service.NewWithdrawService(
		tagAuthSvc,
		ledgerSvc,
		payerSvc,
		challengeStore,
		idempotencyCache,
		withdrawalRepo,
		service.WithdrawConfig{
			CallbackURL:     cfg.Server.BaseURL + "/api/v1/lnurlw/callback",
			ChallengeTTL:    cfg.Withdraw.ChallengeTTL,
			MinWithdrawMsat: cfg.Withdraw.MinWithdrawMsat,
			PayTimeout:      cfg.Payer.Timeout,
			PendingGrace:    cfg.Withdraw.PendingGrace,
		},
		m,
		log,
	)
	donationSvc := service.NewDonationService(
		donationRepo,
		locationRepo,
		ledgerSvc,
		payerSvc,
		transactor,
		service.DonationConfig{
			InvoiceTTL:    cfg.Donation.InvoiceTTL,
			MaxAmountMsat: cfg.Donation.MaxAmountMsat,
		},
		m,
		log,
	)
	walletSvc := service.NewWalletService(
		tagAuthSvc,
		ledgerSvc,
		userRepo,
		payerSvc,
		resolver,
		transactor,
		service.WalletConfig{
			CollectCapMsat: cfg.Wallet.CollectCapMsat,
			PayTimeout:     cfg.Payer.Timeout,
			PendingGrace:   cfg.Wallet.PendingGrace,
		},
		m,
		log,
	)
	cardSvc := service.NewCardService(cardRepo, locationRepo, keySvc, cfg.Server.BaseURL+"/api/v1/lnurlw", log)
	authSvc := service.NewAuthService(userRepo, hashSvc, tokenSvc, log)
	reportingSvc := service.NewReportingService(locationRepo, ledgerRepo, ledgerSvc, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		WithdrawSvc:    withdrawSvc,
		DonationSvc:    donationSvc,
		WalletSvc:      walletSvc,
		CardSvc:        cardSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminToken:     cfg.Server.AdminToken,
		Logger:         log,
	})

	// Background loops: donation settlement and withdrawal reconciliation
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go pollDonations(bgCtx, donationSvc, cfg.Donation.PollInterval, log)
	go sweepWithdrawals(bgCtx, withdrawSvc, cfg.Withdraw.SweepInterval, log)
	go sweepWalletWithdraws(bgCtx, walletSvc, cfg.Wallet.SweepInterval, log)

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// pollDonations runs donation settlement until ctx is cancelled.
func pollDonations(ctx context.Context, svc ports.DonationService, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Poll(ctx); err != nil {
				log.Error().Err(err).Msg("donation poll failed")
			}
		}
	}
}

// sweepWithdrawals reconciles stale pending withdrawals until ctx is
// cancelled.
func sweepWithdrawals(ctx context.Context, svc ports.WithdrawService, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("withdrawal sweep failed")
			}
		}
	}
}

// sweepWalletWithdraws reconciles stale pending custodial withdraws until
// ctx is cancelled.
func sweepWalletWithdraws(ctx context.Context, svc ports.WalletService, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("custodial withdraw sweep failed")
			}
		}
	}
}
