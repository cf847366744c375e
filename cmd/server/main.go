package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	gormlogger "gorm.io/gorm/logger"

	"github.com/comunidad-segura/realtime-api/internal/auth"
	"github.com/comunidad-segura/realtime-api/internal/config"
	"github.com/comunidad-segura/realtime-api/internal/handlers"
	httpx "github.com/comunidad-segura/realtime-api/internal/http"
	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/logging"
	"github.com/comunidad-segura/realtime-api/internal/metrics"
	"github.com/comunidad-segura/realtime-api/internal/protocol"
	"github.com/comunidad-segura/realtime-api/internal/repo"
	"github.com/comunidad-segura/realtime-api/internal/service"
)

func main() {
	// .env は開発用。存在しなくてもよい
	_ = godotenv.Load()

	cfg := config.Load()
	logger, closer := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stdout)
	slog.SetDefault(logger)

	err := run(cfg, logger)
	if err != nil {
		logger.Error("server exited with error", "error", err)
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		PoolSize:     10,              // 接続プールサイズ
		MinIdleConns: 5,               // 最小アイドル接続数
		MaxRetries:   3,               // リトライ回数
		DialTimeout:  5 * time.Second, // 接続タイムアウト
		ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
		WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
		PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
	})
	defer rdb.Close()

	// Redis接続確認
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return err
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	db, err := repo.OpenDatabase(cfg.DatabaseURL, gormLogLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := repo.Migrate(db); err != nil {
		return err
	}
	logger.Info("connected to database")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	store := repo.NewGormStore(db)
	sessions := repo.NewRedisSessionRepo(rdb, cfg.SessionTTL)
	oracle := service.NewMembershipOracle(store, cfg.EmergencyCacheTTL)
	gateway := service.NewMessageGateway(store, cfg.PersistTimeout)

	providers := []auth.IdentityProvider{auth.NewSessionProvider(sessions)}
	if cfg.JWTSecret != "" {
		providers = append(providers, auth.NewJWTProvider(cfg.JWTSecret))
	}
	resolver := auth.NewResolver(cfg.SessionCookie, providers...)

	registry := hub.NewRegistry()
	broadcaster := hub.NewBroadcaster(registry, logger, m)
	dispatcher := protocol.NewDispatcher(protocol.Deps{
		Registry:    registry,
		Broadcaster: broadcaster,
		Rooms:       oracle,
		Events:      gateway,
		Users:       store,
		Logger:      logger,
		Metrics:     m,
	})

	supervisor := hub.NewSupervisor(registry, cfg.HeartbeatInterval, logger, m)
	supervisor.OnEvict = dispatcher.Evicted

	router := httpx.NewRouter(httpx.Handlers{
		WebSocket: handlers.NewWebSocketHandler(resolver, registry, dispatcher, logger, m, handlers.WebSocketOptions{
			AllowedOrigins: cfg.AllowedOrigin,
			SendBuffer:     cfg.SendBuffer,
		}),
		Rooms: handlers.NewRoomHandler(resolver, oracle, registry, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"database": sqlDB.PingContext,
		}, logger),
		Metrics: metrics.Handler(promReg),
	}, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go supervisor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// シャットダウンシグナルを待つ
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// 30秒のタイムアウトでGraceful Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	// Hijack済みのWebSocketはShutdownの対象外なので個別に閉じる
	supervisor.Shutdown()

	logger.Info("server stopped")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	if strings.EqualFold(level, "debug") {
		return gormlogger.Info
	}
	return gormlogger.Warn
}
