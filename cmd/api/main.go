package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shoplane/shoplane-backend/api/controllers"
	"github.com/shoplane/shoplane-backend/api/routes"
	cartsvc "github.com/shoplane/shoplane-backend/internal/cart"
	couponsvc "github.com/shoplane/shoplane-backend/internal/coupons"
	"github.com/shoplane/shoplane-backend/internal/orders"
	catalogclient "github.com/shoplane/shoplane-backend/pkg/clients/catalog"
	offersclient "github.com/shoplane/shoplane-backend/pkg/clients/offers"
	"github.com/shoplane/shoplane-backend/pkg/config"
	"github.com/shoplane/shoplane-backend/pkg/db"
	"github.com/shoplane/shoplane-backend/pkg/locks"
	"github.com/shoplane/shoplane-backend/pkg/logger"
	"github.com/shoplane/shoplane-backend/pkg/metrics"
	"github.com/shoplane/shoplane-backend/pkg/migrate"
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

	catalogClient, err := catalogclient.NewClient(cfg.Catalog)
	if err != nil {
		logg.Error(context.Background(), "failed to build catalog client", err)
		os.Exit(1)
	}
	offersClient, err := offersclient.NewClient(cfg.Offers)
	if err != nil {
		logg.Error(context.Background(), "failed to build offers client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cartMetrics := metrics.NewCartMetrics(registry)

	userLocks := locks.NewKeyed()
	orderLocks := locks.NewKeyed()

	cartService, err := cartsvc.NewService(
		cartsvc.NewRepository(dbClient.DB()),
		catalogClient,
		offersClient,
		userLocks,
		cfg.Cart.MaxQtyPerLine,
		cartMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	couponService, err := couponsvc.NewService(
		couponsvc.NewRepository(dbClient.DB()),
		orders.NewRepository(dbClient.DB()),
		dbClient,
		orderLocks,
		nil,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
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

	deps := map[string]controllers.Pinger{"database": dbClient}
	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewAPIRouter(cfg, logg, deps, registry, cartService, couponService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
