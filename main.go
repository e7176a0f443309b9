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
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/auth"
	"github.com/example/dust-check/internal/config"
	"github.com/example/dust-check/internal/handlers"
	"github.com/example/dust-check/internal/imagesource"
	"github.com/example/dust-check/internal/logging"
	"github.com/example/dust-check/internal/predictor"
	"github.com/example/dust-check/internal/session"
	"github.com/example/dust-check/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis, logger)
	defer redisClient.Close()
	revocations := session.NewLayeredRevocations(
		session.NewRedisRevocations(session.NewRedisCache(redisClient), logger),
		cfg.Auth.RevocationCacheSize,
		cfg.Auth.RevocationCacheTTL,
		logger,
	)

	client := predictor.NewHTTPClient(cfg.Prediction.BaseURL, cfg.Prediction.Timeout, logger)
	checkPredictionService(ctx, client, cfg.Prediction.BaseURL, logger)

	previews := imagesource.NewPreviews("/api/previews")
	metrics := &workflow.Metrics{}
	registry, err := workflow.NewRegistry(cfg.App.MaxSessions, func(gate *session.Gate) *workflow.Workflow {
		return workflow.New(
			gate,
			imagesource.NewSource(previews, cfg.App.MaxUploadSize),
			predictor.NewExclusive(client),
			metrics,
			logger,
		)
	}, logger)
	if err != nil {
		logger.Fatal("failed to build workflow registry", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handlers.RequestLogger(logger))

	authMiddleware := auth.Middleware(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), revocations, logger)
	h := handlers.NewHandler(registry, metrics, previews, client, cfg.App.MaxUploadSize, logger)
	handlers.RegisterRoutes(r, h, authMiddleware)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("dust-check API listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("prediction_service", cfg.Prediction.BaseURL))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.Addr))
	}
	return client
}

// checkPredictionService logs the classifier status; an unavailable
// classifier is not fatal since analyses report it to the user.
func checkPredictionService(ctx context.Context, client *predictor.HTTPClient, baseURL string, logger *zap.Logger) {
	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		logger.Warn("prediction service unreachable", zap.String("url", baseURL), zap.Error(err))
		return
	}
	if health.Model != "loaded" {
		logger.Warn("prediction service has no model loaded", zap.String("model", health.Model))
		return
	}
	logger.Info("prediction service ready", zap.String("status", health.Status))
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
