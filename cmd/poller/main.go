package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytesfield/schedula/configs"
	"github.com/bytesfield/schedula/internal/poller"
	"github.com/bytesfield/schedula/internal/postgres"
	"github.com/bytesfield/schedula/internal/rabbitmq"
)

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("Postgres connection has been initialized successfully")

	rabbitClient, err := rabbitmq.NewRabbitMQClient(ctx, cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.GetMainQueueNames())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = rabbitClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing RabbitMQ connection", "error", err.Error())
		}
	}()
	slog.Info("RabbitMQ has been initialized successfully")

	service := poller.NewService(storage, rabbitClient, cfg.RabbitMQ.TasksQueueName,
		cfg.Scheduler.PollInterval(), cfg.Scheduler.PollBatchLimit)

	slog.Info("Poller is running. To exit press CTRL+C")
	service.Start(ctx)
	slog.Info("Poller is shutting down...")
}
