package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/binance"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/config"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/handlers"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/orders"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/rate"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/service"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/snapshot"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/storage"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/symbols"
	"github.com/GeniusSecret1117/zeroloss-backend/internal/vault"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/health"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/httpmiddleware"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/kafka"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/logging"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/metrics"
	"github.com/GeniusSecret1117/zeroloss-backend/libs/trace"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	tradingMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool)

	cipher, err := vault.NewCipher(cfg.VaultKey)
	if err != nil {
		logger.Error("vault key invalid", "error", err)
		os.Exit(1)
	}
	credentialVault := vault.New(cipher, store)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	var limiter rate.Limiter
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancelPing()
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		cancelPing()
		limiter = rate.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
	} else {
		logger.Warn("redis not configured, using in-process rate limiter")
		limiter = rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	baseURL := binance.ResolveBaseURL(cfg.Binance.BaseURL, cfg.Binance.UseTestnet)
	clock := binance.NewServerClock(nil, baseURL, cfg.Binance.ClockMaxAge)
	gateway := binance.NewGateway(clock,
		binance.WithBaseURL(baseURL),
		binance.WithRecvWindow(cfg.Binance.RecvWindowMS),
	)

	syncCtx, cancelSync := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clock.Sync(syncCtx); err != nil {
		logger.Warn("initial clock sync failed, will retry on demand", "error", err)
	}
	cancelSync()

	rules := symbols.NewRules(gateway, cfg.Binance.FilterTTL)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "symbol_filter_cache_entries",
		Help: "Instrument filter sets currently cached.",
	}, func() float64 { return float64(rules.Size()) }))
	orchestrator := orders.NewOrchestrator(gateway, rules, logger,
		orders.WithPollInterval(cfg.Binance.PollInterval),
		orders.WithPollAttempts(cfg.Binance.PollAttempts),
	)
	snapshots := snapshot.NewService(gateway, logger)

	tradingSvc := service.NewTrading(service.TradingConfig{
		Vault:     credentialVault,
		Placer:    orchestrator,
		Snapshots: snapshots,
		Ticker:    gateway,
		Journal:   store,
		Limiter:   limiter,
		Producer:  producer,
		Logger:    logger,
		Metrics:   tradingMetrics,
		Topic:     cfg.Kafka.PlacementsTopic,
	})

	handler := handlers.New(tradingSvc, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router, []byte(cfg.JWTSecret))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("zeroloss http starting", "addr", httpServer.Addr, "exchange", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
