package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courtlink/whereabouts/internal/booking"
	"github.com/courtlink/whereabouts/internal/config"
	"github.com/courtlink/whereabouts/internal/db"
	"github.com/courtlink/whereabouts/internal/gateway"
	"github.com/courtlink/whereabouts/internal/redislock"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.Info("linker-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load error: %v", err)
	}
	logger.Infof("running linker worker in env=%s interval=%s", cfg.Env, cfg.LinkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	repo := booking.NewPgRepository(pgPool)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, logger)
	locker := redislock.NewSubjectLocker(rdb, cfg.LockTTL)
	linker := booking.NewLinker(repo, gw, locker, logger)

	// Run once at startup
	runOnce(rootCtx, linker, logger)

	ticker := time.NewTicker(cfg.LinkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping linker worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, linker, logger)
		}
	}
}

func runOnce(ctx context.Context, linker *booking.Linker, logger *logrus.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	report, err := linker.Run(runCtx)
	if err != nil {
		logger.Warnf("linker run error: %v", err)
		return
	}
	logger.WithFields(logrus.Fields{
		"subjects": report.Subjects,
		"linked":   report.BookingsLinked,
		"skipped":  report.Skipped,
		"took":     time.Since(start).String(),
	}).Info("linker run complete")
}
