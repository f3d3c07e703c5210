// cmd/mengla-gateway/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"mengla-gateway/internal/api"
	"mengla-gateway/internal/common/aws"
	"mengla-gateway/internal/common/collect"
	"mengla-gateway/internal/common/config"
	"mengla-gateway/internal/common/database"
	commonhttp "mengla-gateway/internal/common/http"
	"mengla-gateway/internal/common/logger"
	"mengla-gateway/internal/common/observability"
	"mengla-gateway/internal/mengla"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting MengLa gateway...",
		zap.String("environment", cfg.App.Environment),
		zap.String("cacheBackend", cfg.MengLa.Cache.Backend),
		zap.String("webhookUrl", cfg.WebhookURL()),
	)

	spanExporter, err := observability.NewSpanExporter(cfg.Tracing.Exporter)
	if err != nil {
		zapLog.Fatal("Failed to create trace exporter", zap.Error(err))
	}
	obs := observability.New(cfg.App.Name, observability.WithSpanExporter(spanExporter))
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readiness := map[string]api.ReadinessCheck{}

	// --- Cache backend ---
	var (
		cache    mengla.Cache
		notifier mengla.Notifier
	)
	switch cfg.MengLa.Cache.Backend {
	case "redis":
		var rc *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rc, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rc.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()
		zapLog.Info("Redis connected successfully")

		cache = mengla.NewRedisCache(rc.Client, mengla.RedisCacheOptions{
			KeyPrefix: cfg.MengLa.Cache.KeyPrefix,
			TTL:       time.Duration(cfg.MengLa.Cache.TTL) * time.Second,
			ExecTTL:   time.Duration(cfg.MengLa.Cache.ExecTTL) * time.Second,
		})
		if cfg.MengLa.Cache.PubSub {
			notifier = mengla.NewRedisNotifier(rc.Client, cfg.MengLa.Cache.Channel)
		}
		readiness["redis"] = rc.Ping
	default:
		cache = mengla.NewMemoryCache()
		zapLog.Warn("Using in-memory cache; webhook deliveries only reach this process")
	}

	// --- Execution log ---
	var execLog mengla.ExecutionLog
	if cfg.MengLa.ExecLog.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		pgLog := mengla.NewPostgresExecutionLog(pg.DB)
		if err := pgLog.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("execution log schema failed", zap.Error(err))
		}
		execLog = pgLog
		readiness["postgres"] = pg.Ping
	}

	// --- Alerts ---
	var alerter mengla.Alerter
	if cfg.Alerts.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		alerter = mengla.NewSNSAlerter(snsClient, cfg.Alerts.SNS.TopicARN, cfg.App.Name)
		zapLog.Info("SNS alerts enabled", zap.String("topicArn", cfg.Alerts.SNS.TopicARN))
	}

	// --- Coordinator ---
	menglaCfg := mengla.ConfigFromApp(cfg)
	if err := menglaCfg.Validate(); err != nil {
		zapLog.Fatal("invalid coordinator config", zap.Error(err))
	}

	collectClient := collect.NewClient(collect.ClientConfig{
		BaseURL:        cfg.Collect.ServiceURL,
		APIKey:         cfg.Collect.APIKey,
		ListTimeout:    config.GetDuration(cfg.Collect.ListTimeout),
		ExecuteTimeout: config.GetDuration(cfg.Collect.ExecuteTimeout),
	}, commonhttp.NewClient(0))

	dispatcher := mengla.NewCollectDispatcher(
		collectClient,
		mengla.NewThrottle(menglaCfg.MinRequestInterval),
		menglaCfg,
		alerter,
		log,
	)

	svc := mengla.NewService(mengla.ServiceDependencies{
		Cache:         cache,
		Dispatcher:    dispatcher,
		Notifier:      notifier,
		ExecutionLog:  execLog,
		Observability: obs,
		Logger:        log,
	}, menglaCfg)

	go func() {
		if err := svc.Run(ctx, nil); err != nil {
			zapLog.Error("Delivery subscription stopped", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewRouter(api.NewHandler(svc, readiness, log), cfg.Collect.WebhookPath)
	var h http.Handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router)
	h = handlers.LoggingHandler(os.Stdout, h)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      h,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("MengLa gateway stopped gracefully")
}
