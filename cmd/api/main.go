package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zandy2test/gumroad-sub034/api/routes"
	"github.com/zandy2test/gumroad-sub034/internal/currency"
	"github.com/zandy2test/gumroad-sub034/internal/gateway"
	"github.com/zandy2test/gumroad-sub034/internal/merchants"
	"github.com/zandy2test/gumroad-sub034/internal/orders"
	"github.com/zandy2test/gumroad-sub034/internal/purchases"
	stripewebhook "github.com/zandy2test/gumroad-sub034/internal/webhooks/stripe"
	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
	"github.com/zandy2test/gumroad-sub034/pkg/metrics"
	"github.com/zandy2test/gumroad-sub034/pkg/migrate"
	"github.com/zandy2test/gumroad-sub034/pkg/redis"
	"github.com/zandy2test/gumroad-sub034/pkg/stripe"
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
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	stripeAdapter, err := gateway.NewStripeAdapter(gateway.NewStripePaymentClient(stripeClient))
	if err != nil {
		logg.Error(context.Background(), "failed to build stripe adapter", err)
		os.Exit(1)
	}
	adapters := []gateway.Adapter{stripeAdapter}
	if cfg.Paypal.ClientID != "" {
		paypalAdapter, err := gateway.NewPaypalAdapter(cfg.Paypal)
		if err != nil {
			logg.Error(context.Background(), "failed to build paypal adapter", err)
			os.Exit(1)
		}
		adapters = append(adapters, paypalAdapter)
	}
	registry, err := gateway.NewRegistry(adapters...)
	if err != nil {
		logg.Error(context.Background(), "failed to build gateway registry", err)
		os.Exit(1)
	}

	converter, err := currency.NewConverter(redisClient, currency.NewHTTPRateSource(cfg.Rates), cfg.Rates, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build currency converter", err)
		os.Exit(1)
	}

	merchantsSvc, err := merchants.NewService(merchants.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create merchant service", err)
		os.Exit(1)
	}

	purchaseRepo := purchases.NewRepository(dbClient.DB())
	purchaseSvc, err := purchases.NewService(purchaseRepo, dbClient, cfg.Checkout, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	chargeMetrics := metrics.NewChargeMetrics(promRegistry)

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:         orders.NewRepository(dbClient.DB()),
		PurchaseRepo: purchaseRepo,
		PurchaseSvc:  purchaseSvc,
		Merchants:    merchantsSvc,
		Gateways:     registry,
		Converter:    converter,
		Attempts:     redisClient,
		Tx:           dbClient,
		Checkout:     cfg.Checkout,
		Logger:       logg,
		Metrics:      chargeMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Repo:              stripewebhook.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.WebhookEventTTL, "stripe_webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
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
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:             cfg,
			Logger:             logg,
			DB:                 dbClient,
			Redis:              redisClient,
			Registry:           promRegistry,
			Orders:             ordersSvc,
			Merchants:          merchantsSvc,
			Converter:          converter,
			StripeClient:       stripeClient,
			StripeWebhookSvc:   webhookSvc,
			StripeWebhookGuard: webhookGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
