package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-retail-orders/internal/config"
	"github.com/ariefcatur/go-retail-orders/internal/httpx"
	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-retail-orders/internal/kafka"
	"github.com/ariefcatur/go-retail-orders/internal/logx"
	"github.com/ariefcatur/go-retail-orders/internal/notify"
	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/ariefcatur/go-retail-orders/internal/postgres"
	"github.com/ariefcatur/go-retail-orders/internal/rabbitmq"
	"github.com/ariefcatur/go-retail-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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

	log, err := logx.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for order events, and notifications when selected.
	// Its loop outlives ctx so shutdown can flush.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("kafka"))
	prod.Start(context.Background())
	defer prod.WaitClosed()
	defer prod.Close()

	var sink orders.NotificationSink
	switch cfg.NotifyTransport {
	case "kafka":
		sink = &notify.KafkaSink{Events: prod, Service: cfg.ServiceName}
	case "rabbitmq":
		pub, err := rabbitmq.Dial(cfg.RabbitMQURL, cfg.NotifyExchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		sink = pub
	default:
		sink = &notify.PostgresSink{DB: db}
	}

	repo := &orders.Repo{DB: db}
	cache := &redisx.StatusCache{RDB: rdb}
	dispatcher := notify.NewDispatcher(sink, repo, cfg.EmployeeProfitRate, log.Named("notify"),
		notify.WithStatusCache(cache),
		notify.WithEvents(prod, cfg.ServiceName))
	engine := inventory.NewEngine(&inventory.StockRepo{DB: db}, log.Named("inventory"))
	svc := orders.NewService(repo, engine, dispatcher, httpx.HeaderPermissions{}, orders.SettingsFrom(cfg), log.Named("orders"),
		orders.WithIdempotency(&redisx.Idempotency{RDB: rdb}))

	router := httpx.NewRouter(log.Named("http"))
	(&httpx.OrdersHandler{Svc: svc, Cache: cache, Log: log.Named("http")}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("notify_transport", cfg.NotifyTransport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
