package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/api"
	"github.com/courtlink/whereabouts/internal/booking"
	"github.com/courtlink/whereabouts/internal/config"
	"github.com/courtlink/whereabouts/internal/db"
	"github.com/courtlink/whereabouts/internal/events"
	"github.com/courtlink/whereabouts/internal/gateway"
	"github.com/courtlink/whereabouts/internal/mq"
	"github.com/courtlink/whereabouts/internal/redislock"
)

const version = "1.2.0"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.Info("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load error: %v", err)
	}
	logger.Infof("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		logger.Fatalf("migration error: %v", err)
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redislock.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warnf("error closing redis: %v", err)
		}
	}()
	logger.Info("connected to Redis")

	publisher, err := mq.NewPublisher(cfg.AmqpURL, cfg.AmqpExchange)
	if err != nil {
		logger.Fatalf("rabbitmq connection error: %v", err)
	}
	defer publisher.Close()
	logger.Info("connected to RabbitMQ")

	repo := booking.NewPgRepository(pgPool)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, logger)
	listener := events.NewLifecyclePublisher(publisher, logger)
	svc := booking.NewService(repo, gw, listener, logger)
	locker := redislock.NewSubjectLocker(rdb, cfg.LockTTL)
	linker := booking.NewLinker(repo, gw, locker, logger)
	replayer := booking.NewReplayer(repo)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Linker:   linker,
		Replayer: replayer,
		Repo:     repo,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown error: %v", err)
	}
}
