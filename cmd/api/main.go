package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/app"
	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/config"
	"github.com/ariefcatur/go-digital-store/internal/httpx"
	kafkax "github.com/ariefcatur/go-digital-store/internal/kafka"
	"github.com/ariefcatur/go-digital-store/internal/notifications"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/payment"
	"github.com/ariefcatur/go-digital-store/internal/postgres"
	"github.com/ariefcatur/go-digital-store/internal/promo"
	"github.com/ariefcatur/go-digital-store/internal/realtime"
	"github.com/ariefcatur/go-digital-store/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := cfg.Logger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderSettled, 1024, log)
	prodCtx, stopProd := context.WithCancel(context.Background())
	defer stopProd()
	prod.Start(prodCtx)

	store, err := app.Catalog(cfg, db)
	if err != nil {
		return err
	}
	alloc := allocator.New(store, cfg.AllocAttempts, log.With("component", "allocator"))
	hub := realtime.NewHub(log.With("component", "realtime"))
	cache := &redisx.StatusCache{RDB: rdb}
	rec := app.Reconciler(cfg, db, alloc, prod, hub, cache, log)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	orderRepo := &orders.Repo{DB: db}
	gateway := payment.NewClient(cfg.Payments.APIURL, cfg.Payments.APIKey, cfg.Payments.Timeout)
	promos := &promo.Service{Store: &promo.Repo{DB: db}}

	router := httpx.NewRouter(httpx.RouterOptions{CORSOrigins: cfg.CORSOrigins, Log: log})
	(&httpx.PaymentsHandler{
		Reconciler: rec,
		Verifier: &payment.Verifier{
			Secret:    []byte(cfg.Payments.WebhookSecret),
			Tolerance: cfg.Payments.WebhookTolerance,
			Skip:      cfg.Payments.SkipVerification,
		},
		Gateway:     gateway,
		Replay:      &redisx.Marks{RDB: rdb, TTL: redisx.TTLWebhookSeen},
		Orders:      orderRepo,
		Auth:        verifier,
		MockEnabled: cfg.MockPayments,
		Log:         log,
	}).Register(router)
	(&httpx.AdminHandler{Token: cfg.AdminToken, Reconciler: rec, Log: log}).Register(router)
	(&httpx.CatalogHandler{Token: cfg.AdminToken, Inventory: alloc, Log: log}).Register(router)
	(&httpx.PromoHandler{Promos: promos, Auth: verifier, Log: log}).Register(router)
	(&httpx.OrdersHandler{
		Orders:  orderRepo,
		Gateway: gateway,
		Promos:  promos,
		Cache:   cache,
		Auth:    verifier,
		Invoices: httpx.InvoiceSettings{
			Currency:    cfg.Payments.PriceCurrency,
			CallbackURL: cfg.Payments.CallbackURL,
			SuccessURL:  cfg.Payments.SuccessURL,
			CancelURL:   cfg.Payments.CancelURL,
		},
		Log: log,
	}).Register(router)
	(&httpx.NotificationsHandler{
		Store: &notifications.Repo{DB: db},
		Auth:  verifier,
		Live:  realtime.NewHandler(hub, verifier, cfg.CORSOrigins, log),
		Log:   log,
	}).Register(router)

	if cfg.Payments.SkipVerification {
		log.Warn("payment webhook signature verification is disabled")
	}
	if cfg.MockPayments {
		log.Warn("mock payments are enabled")
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "catalog", cfg.Catalog)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	prod.Close()      // close inbox, flush and close writer
	prod.WaitClosed() // drain
	return err
}
