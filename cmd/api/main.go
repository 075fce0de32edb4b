package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/analytics"
	"github.com/ariefcatur/go-shop-orders/internal/authz"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("service", cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("exit")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	tax, _ := cfg.Tax()
	ship, _ := cfg.Shipping()

	svc := &orders.Service{
		Emitter: orders.NopEmitter{},
		Pricing: orders.Pricing{TaxRate: tax, ShippingFlat: ship},
		Refunds: orders.RefundPolicy(cfg.RefundPolicy),
		Log:     log.WithField("component", "orders"),
		Name:    cfg.ServiceName,
	}
	var reports *analytics.Reports

	// Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		svc.Store = orders.NewMemoryStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		svc.Store = &orders.PGStore{DB: db}
		reports = &analytics.Reports{DB: db}
	}

	// Redis
	var cache *redisx.Cache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unavailable, continuing without cache")
		}
		cache = redisx.NewCache(rdb)
	}

	// Kafka producer
	var prod *kafkax.Producer
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		prod = kafkax.NewProducer(brokers, 1024, log)
		prod.Start(ctx)
		svc.Emitter = prod
	}

	router := httpx.NewRouter(log.WithField("component", "http"))
	api := &httpx.API{
		Orders:  svc,
		Reports: reports,
		Cache:   cache,
		Policy:  authz.DefaultPolicy(),
		Auth:    &httpx.Authenticator{Secret: secret},
		Log:     log.WithField("component", "http"),
	}
	api.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if prod != nil {
		// ctx is done by now; the producer goroutine flushes its inbox and exits.
		prod.WaitClosed()
	}
	return err
}
