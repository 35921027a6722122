package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/franzego/push-notification-service/internal/cache"
	"github.com/franzego/push-notification-service/internal/config"
	"github.com/franzego/push-notification-service/internal/consumer"
	"github.com/franzego/push-notification-service/internal/fcm"
	"github.com/franzego/push-notification-service/internal/handlers"
	"github.com/franzego/push-notification-service/internal/metrics"
	"github.com/franzego/push-notification-service/internal/middleware"
	"github.com/franzego/push-notification-service/internal/queue"
	"github.com/franzego/push-notification-service/internal/store"
	"github.com/franzego/push-notification-service/pkg/circuitbreaker"
	redisclient "github.com/franzego/push-notification-service/pkg/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redisclient.InitRedis(cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	guard := cache.NewIdempotencyGuard(redisClient, cfg.Delivery.IdempotencyTTL)

	pool, err := store.NewPool(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	notifications := store.NewNotificationStore(pool)
	deviceTokens := store.NewDeviceTokenStore(pool)

	queueClient, err := queue.NewRabbitMqService(cfg.RabbitMQ, logger)
	if err != nil {
		logger.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer queueClient.CloseConnection()
	if err := queueClient.SetUpExchangeAndQueue(); err != nil {
		logger.Fatal("failed to declare queue topology", zap.Error(err))
	}

	tokenSource, err := fcm.NewTokenSource(cfg.FCM.CredentialsPath, nil)
	if err != nil {
		logger.Fatal("failed to load fcm credentials", zap.Error(err))
	}
	projectID := cfg.FCM.ProjectID
	if projectID == "" {
		projectID = tokenSource.ProjectID()
	}

	m := metrics.New()
	breaker := circuitbreaker.New("fcm", cfg.Breaker.FailureThreshold, cfg.Breaker.Timeout,
		func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.IncBreakerTransition(to.String())
		})
	gateway := fcm.NewClient(projectID, cfg.FCM.Timeout, tokenSource, breaker, logger)

	deliveryConsumer := consumer.New(queueClient, gateway, guard, notifications, consumer.Config{
		RetryQueue:  cfg.RabbitMQ.RetryQueue,
		FailedQueue: cfg.RabbitMQ.FailedQueue,
		MaxRetries:  cfg.Delivery.MaxRetries,
		BackoffBase: cfg.Delivery.BackoffBase,
	}, m, logger)

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- queueClient.Consume(ctx, cfg.RabbitMQ.PushQueue, deliveryConsumer.HandleDelivery)
	}()

	notificationHandler := handlers.NewNotificationHandler(
		queueClient, guard, notifications, deviceTokens, cfg.RabbitMQ.PushQueue, logger)
	healthHandler := handlers.NewHealthHandler(queueClient, guard, pool, gateway)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api/v1")
	if cfg.Auth.JWTSecret != "" {
		api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	api.POST("/notifications/send", notificationHandler.SendPush)
	api.POST("/notifications/send-bulk", notificationHandler.SendBulk)
	api.GET("/notifications/status", notificationHandler.GetStatus)
	api.POST("/device-tokens", notificationHandler.RegisterDeviceToken)
	api.GET("/device-tokens/:user_id", notificationHandler.ListDeviceTokens)
	api.DELETE("/device-tokens/:token", notificationHandler.DeactivateDeviceToken)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-consumerDone:
		if err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	return logger
}
