package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nileshop/nileshop-backend/api/routes"
	"github.com/nileshop/nileshop-backend/internal/checkout"
	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/payments"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/providers/paymob"
	"github.com/nileshop/nileshop-backend/internal/providers/stripeadapter"
	"github.com/nileshop/nileshop-backend/internal/reconciler"
	"github.com/nileshop/nileshop-backend/internal/refunds"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/internal/wallet"
	"github.com/nileshop/nileshop-backend/pkg/config"
	"github.com/nileshop/nileshop-backend/pkg/db"
	"github.com/nileshop/nileshop-backend/pkg/logger"
	"github.com/nileshop/nileshop-backend/pkg/metrics"
	"github.com/nileshop/nileshop-backend/pkg/migrate"
	"github.com/nileshop/nileshop-backend/pkg/redis"
	"github.com/nileshop/nileshop-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to initialize stripe", err)
		os.Exit(1)
	}

	stripeAdapter, err := stripeadapter.NewAdapter(stripeadapter.NewAPI(stripeClient))
	if err != nil {
		logg.Error(context.Background(), "failed to initialize stripe adapter", err)
		os.Exit(1)
	}

	paymobClient, err := paymob.NewClient(cfg.Paymob)
	if err != nil {
		logg.Error(context.Background(), "failed to initialize paymob client", err)
		os.Exit(1)
	}
	paymobAdapter, err := paymob.NewAdapter(paymobClient)
	if err != nil {
		logg.Error(context.Background(), "failed to initialize paymob adapter", err)
		os.Exit(1)
	}
	adapters := []providers.Adapter{stripeAdapter, paymobAdapter}

	orderRepo := orders.NewRepository(dbClient.DB())
	transactionRepo := transactions.NewRepository(dbClient.DB())
	attemptRepo := payments.NewRepository(dbClient.DB())
	walletRepo := wallet.NewRepository(dbClient.DB())
	eventRepo := reconciler.NewRepository(dbClient.DB())

	walletService, err := wallet.NewService(wallet.ServiceParams{
		WalletRepo:        walletRepo,
		TransactionRunner: dbClient,
		Currency:          cfg.Payments.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		AttemptRepo:       attemptRepo,
		OrderRepo:         orderRepo,
		TransactionRepo:   transactionRepo,
		Adapters:          adapters,
		TransactionRunner: dbClient,
		Logger:            logg,
		Currency:          cfg.Payments.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	metricsRegistry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(metricsRegistry)

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		EventRepo:            eventRepo,
		OrderRepo:            orderRepo,
		TransactionRepo:      transactionRepo,
		AttemptRepo:          attemptRepo,
		WalletService:        walletService,
		Adapters:             adapters,
		TransactionRunner:    dbClient,
		Metrics:              webhookMetrics,
		Logger:               logg,
		AutoRefundDuplicates: cfg.Payments.AutoRefundDuplicates,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	refundService, err := refunds.NewService(refunds.ServiceParams{
		TransactionRepo:   transactionRepo,
		OrderRepo:         orderRepo,
		WalletService:     walletService,
		Adapters:          adapters,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		OrderRepo:         orderRepo,
		TransactionRepo:   transactionRepo,
		WalletService:     walletService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Currency:          cfg.Payments.Currency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	stripeGuard := reconciler.NewGuard(redisClient, "webhook:stripe", cfg.Payments.WebhookDedupTTL)
	paymobGuard := reconciler.NewGuard(redisClient, "webhook:paymob", cfg.Payments.WebhookDedupTTL)
	paymobVerifier := func(payload map[string]any, provided string) bool {
		return paymob.VerifyCallbackHMAC(payload, cfg.Paymob.HMACSecret, provided)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			stripeClient,
			paymobVerifier,
			reconcilerService,
			stripeGuard,
			paymobGuard,
			paymentsService,
			walletService,
			checkoutService,
			refundService,
			metricsRegistry,
		),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutting down api server")
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(timeoutCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
