package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/projector"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).WithField("service", cfg.ServiceName+"-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("consumer exit")
		os.Exit(1)
	}
	log.Info("projector stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	svc := &projector.Service{
		Cache:       redisx.NewCache(rdb),
		ServiceName: cfg.WorkerGroup,
		Log:         log.WithField("component", "projector"),
	}
	cons := kafkax.NewConsumer(cfg.Brokers(), cfg.WorkerGroup, orders.AllTopics, cfg.WorkerConcurrency, log)

	log.WithFields(logrus.Fields{
		"group": cfg.WorkerGroup, "topics": orders.AllTopics, "workers": cfg.WorkerConcurrency,
	}).Info("projector started")
	return cons.Start(ctx, svc.Handle)
}
