package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/logx"
	"github.com/ariefcatur/go-retail-orders/internal/notify"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/postgres"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// notifier persists NotificationRequested events published by the API when
// NOTIFY_TRANSPORT=kafka.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if path := os.Getenv("ORDERS_CONFIG_FILE"); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			panic(err)
		}
	} else if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log, err := logx.New(cfg.LogLevel, cfg.ServiceName+"-notifier")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: int32(cfg.NotifierWorkers)})
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	p := &notify.Persister{
		Sink:  &notify.PostgresSink{DB: db},
		Dedup: &redisx.Dedup{RDB: rdb, Service: cfg.NotifierGroup},
		Log:   log,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.TopicNotifications, cfg.NotifierWorkers, log)

	log.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.String("topic", orders.TopicNotifications),
		zap.Int("workers", cfg.NotifierWorkers))
	if err := cons.Start(ctx, func(ctx context.Context, m kafka.Message) error {
		return p.Handle(ctx, m.Value)
	}); err != nil {
		log.Error("consumer exit", zap.Error(err))
	}
	log.Info("notifier stopped")
}
