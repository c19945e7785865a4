package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/saini-30/chargemint/libs/health"
	"github.com/saini-30/chargemint/libs/httpmiddleware"
	"github.com/saini-30/chargemint/libs/kafka"
	"github.com/saini-30/chargemint/libs/logging"
	"github.com/saini-30/chargemint/libs/metrics"
	"github.com/saini-30/chargemint/libs/trace"
	"github.com/saini-30/chargemint/services/wallet/internal/accrual"
	"github.com/saini-30/chargemint/services/wallet/internal/config"
	"github.com/saini-30/chargemint/services/wallet/internal/consumer"
	"github.com/saini-30/chargemint/services/wallet/internal/events"
	"github.com/saini-30/chargemint/services/wallet/internal/handlers"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/rate"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
)

type walletStore interface {
	service.Store
	accrual.Store
	accrual.RunRecorder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	walletMetrics := service.NewMetrics(registry)
	ready := health.NewManager(false)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	lock, limiter, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		logger.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer closeRedis()

	var producer kafka.Publisher
	var consumerGroup *kafka.Consumer
	if cfg.Kafka.Enabled {
		syncProducer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer syncProducer.Close()
		producer = syncProducer
		if cfg.Kafka.Topics.DeadLetter != "" {
			producer = kafka.NewDLQPublisher(syncProducer, syncProducer, cfg.Kafka.Topics.DeadLetter, logger)
		}

		consumerGroup, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		consumerGroup.WithDLQ(syncProducer, cfg.Kafka.Topics.DeadLetter)
		defer consumerGroup.Close()
	} else {
		logger.Warn("kafka disabled, account events will not be published")
	}

	publisher := events.NewPublisher(producer, logger)
	sweeper := accrual.NewSweeper(store, accrual.Options{
		Workers:  cfg.Accrual.Workers,
		Location: cfg.Accrual.Location,
		LockTTL:  cfg.Accrual.LockTTL,
		Lock:     lock,
		Recorder: store,
		OnCommit: func(ctx context.Context, a *ledger.Account) {
			if err := publisher.PublishAccountChange(ctx, "", a); err != nil {
				walletMetrics.IncPublishFailure()
				logger.Error("publish accrual change failed", "account_id", a.ID, "error", err)
			}
		},
		Logger: logger,
	})

	walletService := service.NewWalletService(store, service.Options{
		Commission:    cfg.Commission,
		PaymentSecret: []byte(cfg.Payment.Secret),
		Location:      cfg.Accrual.Location,
		TreeDepth:     cfg.Referral.TreeDepth,
		Limiter:       limiter,
		Sweeper:       sweeper,
		Publisher:     publisher,
		Metrics:       walletMetrics,
		Logger:        logger,
	})

	var scheduler *accrual.Scheduler
	if cfg.Accrual.Enabled {
		scheduler = accrual.NewScheduler(cfg.Accrual.Schedule, cfg.Accrual.Location, walletService.ScheduledAccrual, nil, cfg.Accrual.Timeout, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error("accrual scheduler init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("next accrual run", "at", scheduler.Next())
	}

	ready.AddCheck("store", walletService.Ready)

	httpServer := buildHTTPServer(cfg, walletService, ready, registry, logger)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	ready.SetReady(true)

	go func() {
		logger.Info("wallet http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	if consumerGroup != nil {
		depositConsumer := consumer.NewDepositConsumer(walletService, logger)
		go func() {
			logger.Info("wallet consumer starting", "topic", cfg.Kafka.Topics.PaymentsConfirmed)
			if err := consumerGroup.Consume(consumerCtx, []string{cfg.Kafka.Topics.PaymentsConfirmed}, depositConsumer); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	waitForShutdown(httpServer, scheduler, ready, consumerCancel, logger)
}

func openStore(cfg *config.Config, logger *slog.Logger) (walletStore, func(), error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return storage.New(pool, logger), pool.Close, nil
}

func openRedis(cfg *config.Config, logger *slog.Logger) (accrual.Lock, rate.Limiter, func(), error) {
	if !cfg.Redis.Enabled() {
		logger.Warn("redis not configured, using in-process accrual lock and rate limiter")
		return accrual.NewMemoryLock(), rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}

	lock := accrual.NewRedisLock(client, cfg.Redis.Prefix+":accrual:")
	limiter := rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.Redis.Prefix+":rl:")
	return lock, limiter, func() { _ = client.Close() }, nil
}

func buildHTTPServer(cfg *config.Config, svc *service.WalletService, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(svc, logger).Register(router, []byte(cfg.Auth.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, scheduler *accrual.Scheduler, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if scheduler != nil {
		scheduler.Stop(ctx)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
