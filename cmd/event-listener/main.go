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
	"github.com/courtlink/whereabouts/internal/events"
	"github.com/courtlink/whereabouts/internal/gateway"
	"github.com/courtlink/whereabouts/internal/mq"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.Info("event-listener starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config load error: %v", err)
	}

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

	publisher, err := mq.NewPublisher(cfg.AmqpURL, cfg.AmqpExchange)
	if err != nil {
		logger.Fatalf("rabbitmq publisher error: %v", err)
	}
	defer publisher.Close()

	consumer, err := mq.NewConsumer(cfg.AmqpURL, cfg.AmqpExchange, cfg.ListenerQueue, []string{
		events.KeySubjectReleased,
		events.KeySubjectTransferred,
		events.KeyAppointmentDeleted,
	})
	if err != nil {
		logger.Fatalf("rabbitmq consumer error: %v", err)
	}
	defer consumer.Close()
	logger.Info("connected to RabbitMQ")

	repo := booking.NewPgRepository(pgPool)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, logger)
	listener := events.NewLifecyclePublisher(publisher, logger)
	svc := booking.NewService(repo, gw, listener, logger)

	nc := events.NewNotificationConsumer(svc, consumer, logger)

	done := make(chan error, 1)
	go func() {
		done <- nc.Run(rootCtx)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received, stopping event listener")
	case err := <-done:
		if err != nil {
			logger.Fatalf("consumer error: %v", err)
		}
	}
}
