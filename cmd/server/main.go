package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/rl1809/shoe-store/internal/adapter/handler"
	"github.com/rl1809/shoe-store/internal/adapter/observability"
	"github.com/rl1809/shoe-store/internal/adapter/storage"
	"github.com/rl1809/shoe-store/internal/config"
	"github.com/rl1809/shoe-store/internal/core/service"
	"github.com/rl1809/shoe-store/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := config.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := observability.Setup(ctx, observability.TelemetryConfig{
		ServiceName:     handler.ServiceName,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		Stdout:          cfg.TraceStdout,
		MetricsEndpoint: cfg.OTLPMetricsEndpoint,
		MetricsInterval: cfg.MetricsInterval,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize telemetry")
	}

	db, repo := openDatabase(ctx, cfg, log)
	rdb, cache := openCache(ctx, cfg, log)

	// Initialize services
	stock := service.NewStockSynchronizer(repo, repo, cache, cfg.SyncConcurrency, log)
	validator := service.NewStockValidator(repo)
	inventory := service.NewInventoryService(repo, repo, cache, stock, log)
	orders := observability.NewOrderService(
		service.NewOrderService(repo, validator, stock, cache, log),
		log,
	)

	go stock.Run(ctx, cfg.StockReconcileInterval)
	log.WithField("interval", cfg.StockReconcileInterval.String()).Info("started stock reconciliation")

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(log)))
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orders, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen")
	}

	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("gRPC server error")
		}
	}()

	// Initialize HTTP server
	if cfg.LogLevel < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.AdminPassword == "" || cfg.AdminSessionSecret == "" {
		log.Warn("ADMIN_PASSWORD or ADMIN_SESSION_SECRET not set, admin routes are disabled")
	}
	router := handler.NewRouter(
		handler.NewHTTPHandler(orders, inventory, stock, log),
		handler.NewAdminAuth(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminSessionSecret, log),
		log,
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	cancel()

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown incomplete")
	}
	log.Info("connections closed")
}

// openDatabase connects to MySQL and applies the schema. Without a DSN, or
// when MySQL is unreachable, it falls back to the in-memory store.
func openDatabase(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*sqlx.DB, port.DatabaseRepository) {
	if cfg.MySQLDSN == "" {
		log.Warn("MYSQL_DSN not set, using in-memory store")
		return nil, storage.NewMemoryAdapter()
	}

	dsn, err := storage.NormalizeDSN(cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("invalid MYSQL_DSN")
	}
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.WithError(err).Warn("mysql unreachable, using in-memory store")
		_ = db.Close()
		return nil, storage.NewMemoryAdapter()
	}
	if err := storage.MigrateSchema(ctx, db); err != nil {
		log.WithError(err).Fatal("failed to migrate schema")
	}
	log.Info("connected to mysql")

	return db, storage.NewMySQLAdapter(db)
}

// openCache connects to Redis, or disables caching when it is not configured
// or not reachable.
func openCache(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*redis.Client, port.CacheRepository) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, idempotency keys and stock cache disabled")
		return nil, storage.NopCache{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, idempotency keys and stock cache disabled")
		_ = rdb.Close()
		return nil, storage.NopCache{}
	}
	log.Info("connected to redis")

	return rdb, storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
}
