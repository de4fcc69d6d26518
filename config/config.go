package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	RedisURL         string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	TaskStreamKey    string `envconfig:"TASK_STREAM_KEY" default:"newsdesk:tasks:generation"`
	TaskGroupName    string `envconfig:"TASK_GROUP_NAME" default:"newsdesk-generators"`
	TaskConsumerName string `envconfig:"TASK_CONSUMER_NAME" default:"newsdesk-generator-1"`

	// WorkerMaxAttempts begrenzt die Zustellversuche pro Task (inkl. Erstzustellung).
	WorkerMaxAttempts  int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"3"`
	WorkerRetryBackoff time.Duration `envconfig:"WORKER_RETRY_BACKOFF" default:"60s"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/30 * * * *"`

	// Discovery-Parameter
	FeedItemLimit    int           `envconfig:"FEED_ITEM_LIMIT" default:"5"`
	FeedFetchTimeout time.Duration `envconfig:"FEED_FETCH_TIMEOUT" default:"15s"`
	PageFetchTimeout time.Duration `envconfig:"PAGE_FETCH_TIMEOUT" default:"5s"`
	UserAgent        string        `envconfig:"USER_AGENT" default:"newsdesk-bot/1.0 (+https://newsdesk.app)"`

	// Titel-Heuristiken (siehe services/normalizer.go und services/generator.go)
	TitleColonWindow      int `envconfig:"TITLE_COLON_WINDOW" default:"45"`
	DisplayTitleThreshold int `envconfig:"DISPLAY_TITLE_THRESHOLD" default:"70"`

	// Batch-Limits: Enqueue-Chunk ist durch das Queue-Backend begrenzt,
	// Store-Batch durch das atomare Batch-Write-Limit des Stores.
	EnqueueChunkSize int `envconfig:"ENQUEUE_CHUNK_SIZE" default:"100"`
	StoreBatchLimit  int `envconfig:"STORE_BATCH_LIMIT" default:"500"`

	// Verzögerungen zwischen Quellen beim Source-Testing (Rate-Limits Dritter)
	SourceTestDelayFull   time.Duration `envconfig:"SOURCE_TEST_DELAY_FULL" default:"1200ms"`
	SourceTestDelaySample time.Duration `envconfig:"SOURCE_TEST_DELAY_SAMPLE" default:"500ms"`
	SourceTestDelayMicro  time.Duration `envconfig:"SOURCE_TEST_DELAY_MICRO" default:"200ms"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
