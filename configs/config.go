package configs

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerPort             string `envconfig:"SERVER_PORT" default:"8080"`
	ServerTimeOutInSeconds int64  `envconfig:"SERVER_TIME_OUT_IN_SECONDS" default:"5"`
	WorkerTimeOutInSeconds int64  `envconfig:"WORKER_TIME_OUT_IN_SECONDS" default:"15"`
	Database               DatabaseConfig
	RabbitMQ               RabbitMQConfig
	RedisConfig            RedisConfig
	Scheduler              SchedulerConfig
	Email                  EmailConfig
}

type DatabaseConfig struct {
	Username     string `envconfig:"DB_USERNAME"`
	Password     string `envconfig:"DB_PASSWORD"`
	Host         string `envconfig:"DB_HOST"`
	Port         string `envconfig:"DB_PORT"`
	Database     string `envconfig:"DB_DATABASE"`
	DatabaseTest string `envconfig:"DB_DATABASE_TEST"`
	SSLMode      string `envconfig:"DB_SSL_MODE" default:"require"`
	PoolMaxConns int    `envconfig:"DB_POOL_MAX_CONNS" default:"1"`
}

type RabbitMQConfig struct {
	Username       string `envconfig:"RABBIT_USERNAME"`
	Password       string `envconfig:"RABBIT_PASSWORD"`
	Host           string `envconfig:"RABBIT_HOST"`
	Port           string `envconfig:"RABBIT_PORT"`
	TasksQueueName string `envconfig:"TASKS_QUEUE_NAME" default:"task.queue"`
}

type RedisConfig struct {
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Host     string `envconfig:"REDIS_HOST"`
	Port     string `envconfig:"REDIS_PORT"`
	DBIndex  int32  `envconfig:"REDIS_DB_INDEX"`
}

// SchedulerConfig is the knob surface of the scheduling pipeline: the poll
// cadence, the task-level retry policy and the dispatch-level backoff. The
// task-level retry delay is a fixed constant on purpose, distinct from the
// exponential dispatch backoff.
type SchedulerConfig struct {
	PollIntervalMS        int64  `envconfig:"POLL_INTERVAL_MS" default:"30000"`
	PollBatchLimit        int32  `envconfig:"POLL_BATCH_LIMIT" default:"100"`
	TaskMaxRetries        int32  `envconfig:"TASK_MAX_RETRIES" default:"3"`
	TaskRetryDelaySeconds int64  `envconfig:"TASK_RETRY_DELAY_SECONDS" default:"10"`
	DispatchMaxRetries    uint64 `envconfig:"DISPATCH_MAX_RETRIES" default:"3"`
	DispatchBackoffBaseMS int64  `envconfig:"DISPATCH_BACKOFF_BASE_MS" default:"500"`
	DispatchBackoffCapMS  int64  `envconfig:"DISPATCH_BACKOFF_CAP_MS" default:"8000"`
	// Status a task collapses into once task-level retries are exhausted.
	// "completed" matches the historical behavior of conflating give-up with
	// success; set to "failed" for a distinct terminal state.
	ExhaustedTaskStatus string `envconfig:"EXHAUSTED_TASK_STATUS" default:"completed"`
}

type EmailConfig struct {
	Provider       string `envconfig:"EMAIL_PROVIDER" default:"smtp"`
	FromAddress    string `envconfig:"EMAIL_FROM_ADDRESS"`
	FromName       string `envconfig:"EMAIL_FROM_NAME" default:"Schedula"`
	SMTPHost       string `envconfig:"SMTP_HOST"`
	SMTPPort       string `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername   string `envconfig:"SMTP_USERNAME"`
	SMTPPassword   string `envconfig:"SMTP_PASSWORD"`
	SendgridAPIKey string `envconfig:"SENDGRID_API_KEY"`
}

func (s SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

func (s SchedulerConfig) TaskRetryDelay() time.Duration {
	return time.Duration(s.TaskRetryDelaySeconds) * time.Second
}

func (s SchedulerConfig) DispatchBackoffBase() time.Duration {
	return time.Duration(s.DispatchBackoffBaseMS) * time.Millisecond
}

func (s SchedulerConfig) DispatchBackoffCap() time.Duration {
	return time.Duration(s.DispatchBackoffCapMS) * time.Millisecond
}

// ToMigrationUri returns a string specifically for the migration package with the right prefix
func (d DatabaseConfig) ToMigrationUri() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
	)
}

// ToDbConnectionUri returns a connection URI to be used with the pgx package
func (d DatabaseConfig) ToDbConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.Database,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToTestDBConnectionUri returns a string specifically for running the integration tests
func (d DatabaseConfig) ToTestDBConnectionUri() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DatabaseTest,
		d.SSLMode,
		d.PoolMaxConns,
	)
}

// ToRabbitConnectionUri returns a connection URI to be used with the rabbitmq/amqp091-go package
func (d RabbitMQConfig) ToRabbitConnectionUri() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
	)
}

// GetMainQueueNames returns the queue names which must be declared before
// publishing or consuming.
func (d RabbitMQConfig) GetMainQueueNames() []string {
	return []string{d.TasksQueueName}
}

// ToRedisConnectionUri returns a connection URI to be used with the redis/go-redis/v9 package
func (d RedisConfig) ToRedisConnectionUri() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/%d",
		d.Username,
		d.Password,
		d.Host,
		d.Port,
		d.DBIndex,
	)
}

func InitConfig() *Config {
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Unable to load .env %v", err)
	}

	var cfg Config
	err = envconfig.Process("", &cfg)
	if err != nil {
		fmt.Print("Cannot load env")
	}

	return &cfg
}
