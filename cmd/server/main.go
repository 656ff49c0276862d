package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bytesfield/schedula/configs"
	db2 "github.com/bytesfield/schedula/db"
	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
	"github.com/bytesfield/schedula/internal/postgres"
	"github.com/bytesfield/schedula/internal/rabbitmq"
	"github.com/bytesfield/schedula/internal/server"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
)

var postgresIsReady, rabbitIsReady bool

func main() {
	cfg := configs.InitConfig()

	d, err := iofs.New(db2.Migrations, "migrations")
	if err != nil {
		log.Fatal(err)
		return
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.Database.ToMigrationUri())
	if err != nil {
		log.Fatal(err)
		return
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal(err)
		}
	}
	slog.Info("Migrations ran successfully")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerTimeOutInSeconds)*time.Second)
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	postgresIsReady = true
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
	rabbitIsReady = true
	slog.Info("RabbitMQ has been initialized successfully")

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	router := setupHTTPServer(storage, rabbitClient, cfg.RabbitMQ.TasksQueueName, cfg.Scheduler.TaskMaxRetries)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling below
	go func() {
		log.Printf("Starting server on port %s\n", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func setupHTTPServer(storage domain.Storage, rabbitClient *rabbitmq.RabbitMQClient, tasksQueueName string, defaultMaxRetries int32) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_task_kind", validateTaskKind)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_task_kind")
		}

		err = v.RegisterValidation("validate_channel", validateChannel)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_channel")
		}

		err = v.RegisterValidation("validate_cron", validateCron)
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_cron")
		}
	}

	serverLogic := server.NewServerLogic(storage, rabbitClient, tasksQueueName, defaultMaxRetries)

	users := r.Group("/users")
	users.POST("", func(c *gin.Context) {
		req := domain.RouterRequestAddUser{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		user, err := serverLogic.AddUser(c, req)
		if err != nil {
			if errors.Is(err, errval.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
				return
			}

			c.JSON(http.StatusInternalServerError, gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"added_user_id": user.ID})
	})

	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestAddTask{}
		// Request binding and validation
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		task, err := serverLogic.AddTask(c, req)
		if err != nil {
			status := statusForError(err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"added_task_id": task.ID})
	})

	tasks.GET("/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		task, err := serverLogic.GetTask(c, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	})

	tasks.PUT("/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		req := domain.RouterRequestUpdateTask{}
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{})
			return
		}

		task, err := serverLogic.UpdateTask(c, id, req)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	})

	tasks.DELETE("/:id", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		if err := serverLogic.DeleteTask(c, id); err != nil {
			c.JSON(statusForError(err), gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{})
	})

	tasks.GET("/:id/notifications", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		notifications, err := serverLogic.GetTaskNotifications(c, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"notifications": notifications})
	})

	tasks.GET("/:id/history", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		taskHistory, err := serverLogic.GetTaskStatusHistory(c, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"history": taskHistory})
	})

	users.GET("/:id/tasks", func(c *gin.Context) {
		id, ok := parseIDParam(c)
		if !ok {
			return
		}

		userTasks, err := serverLogic.GetUserTasks(c, id)
		if err != nil {
			c.JSON(statusForError(err), gin.H{})
			return
		}

		c.JSON(http.StatusOK, gin.H{"tasks": userTasks})
	})

	r.GET("/readiness", func(c *gin.Context) {
		if postgresIsReady && rabbitIsReady {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
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

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func parseIDParam(c *gin.Context) (int32, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 32)
	if err != nil {
		slog.Error("Invalid id parameter, error occurred while casting id str to int", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}

	return int32(id), true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, errval.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errval.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errval.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var validateTaskKind validator.Func = func(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	switch kind {
	case string(domain.KindCron), string(domain.KindTimestamp):
		return true
	default:
		return false
	}
}

var validateChannel validator.Func = func(fl validator.FieldLevel) bool {
	channel := fl.Field().String()
	return channel == string(domain.ChannelEmail)
}

var validateCron validator.Func = func(fl validator.FieldLevel) bool {
	return domain.IsValidCron(fl.Field().String())
}
