package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bytesfield/schedula/configs"
	"github.com/bytesfield/schedula/internal/consumer"
	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/engine"
	"github.com/bytesfield/schedula/internal/postgres"
	"github.com/bytesfield/schedula/internal/rabbitmq"
	"github.com/bytesfield/schedula/internal/redis"
	"github.com/bytesfield/schedula/internal/trigger"
	"github.com/bytesfield/schedula/pkg/mailer"
	"github.com/bytesfield/schedula/pkg/render"
)

var postgresIsReady, rabbitIsReady, redisIsReady bool

func main() {
	cfg := configs.InitConfig()

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	rabbitIsReady = true
	slog.Info("RabbitMQ connection has been initialized successfully")

	redisClient, err := redis.NewClient(ctx, cfg.RedisConfig.ToRedisConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		err = redisClient.Close()
		if err != nil {
			slog.Error("An error occurred while closing Redis connection", "error", err.Error())
		}
	}()
	redisIsReady = true
	slog.Info("Redis connection has been initialized successfully")

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
	slog.Info("Postgres connection has been initialized successfully")

	dispatcher, err := mailer.NewDispatcher(cfg.Email)
	if err != nil {
		log.Fatal(err)
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		log.Fatal(err)
	}

	triggers := trigger.NewScheduler()
	defer triggers.Shutdown()

	eng := engine.New(storage, dispatcher, renderer, triggers, engine.Config{
		FireTimeout:        time.Duration(cfg.WorkerTimeOutInSeconds) * time.Second,
		RetryDelay:         cfg.Scheduler.TaskRetryDelay(),
		DispatchMaxRetries: cfg.Scheduler.DispatchMaxRetries,
		DispatchBackoff:    cfg.Scheduler.DispatchBackoffBase(),
		DispatchBackoffCap: cfg.Scheduler.DispatchBackoffCap(),
		ExhaustedStatus:    domain.TaskStatus(cfg.Scheduler.ExhaustedTaskStatus),
	})

	scheduleConsumer := consumer.New(storage, redisClient, triggers, eng.Fire,
		time.Duration(cfg.WorkerTimeOutInSeconds)*time.Second)

	// The consumer tag must be unique per worker instance.
	consumerName := "schedula-worker:" + uuid.NewString()
	queueName := cfg.RabbitMQ.TasksQueueName
	slog.Info("Creating consumer for RabbitMQ", "queue_name", queueName, "consumer_name", consumerName)
	err = rabbitClient.ConsumeTaskRefs(consumerName, queueName, scheduleConsumer.Handle)
	if err != nil {
		log.Fatalf("Failed to start consuming messages: %v", err)
	}
	slog.Info("Consumer is created successfully", "queue_name", queueName, "consumer_name", consumerName)

	// Running HTTP Server in order to have liveness and readiness HTTP APIs
	go setUpHealthCheckerAPIs(ctx, cfg, storage, rabbitClient, redisClient)

	slog.Info("Worker is running. To exit press CTRL+C")
	<-ctx.Done()
	slog.Info("Worker is shutting down...")
}

func setUpHealthCheckerAPIs(ctx context.Context, cfg *configs.Config, storage domain.Storage, rabbitClient *rabbitmq.RabbitMQClient, redisClient *redis.Client) {
	r := gin.Default()
	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady && redisIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		err := storage.Ping(c)
		if err != nil {
			slog.Error("Postgresql seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		isRabbitHealthy := rabbitClient.IsHealthy()
		if !isRabbitHealthy {
			slog.Error("Rabbit is not healthy")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		err = redisClient.Ping(c)
		if err != nil {
			slog.Error("Redis seem not to be pingable in liveness API", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Starting health server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down health server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown: %s\n", err)
	}
}
