package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-digital-store/internal/config"
	kafkax "github.com/ariefcatur/go-digital-store/internal/kafka"
	"github.com/ariefcatur/go-digital-store/internal/mailer"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	cfg.ServiceName += "-mailer"
	log := cfg.Logger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &mailer.Service{
		Sender:   mailer.NewClient(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.Timeout),
		Dedup:    &redisx.Marks{RDB: rdb, TTL: redisx.TTLDedup},
		From:     cfg.Mail.From,
		StoreURL: cfg.Mail.StoreURL,
		Name:     "mailer",
		Log:      log,
	}

	// Consumer
	cons := kafkax.NewConsumer(kafkax.ConsumerOptions{
		Brokers:     cfg.KafkaBrokers,
		Group:       cfg.Mail.Group,
		Topic:       orders.TopicOrderSettled,
		Workers:     cfg.Mail.Workers,
		MaxAttempts: cfg.Mail.Attempts,
	}, log)
	log.Info("mailer consumer started", "group", cfg.Mail.Group, "topic", orders.TopicOrderSettled, "workers", cfg.Mail.Workers)
	if err := cons.Start(ctx, svc.HandleOrderSettled); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("mailer stopped")
}
