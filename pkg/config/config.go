package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the staging engine.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
	Search   SearchConfig
	Pipeline PipelineConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"lakestage-staging"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Brokers           []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	NotificationTopic string        `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"lakestage.raw.notifications"`
	NotificationGroup string        `env:"KAFKA_NOTIFICATION_GROUP" envDefault:"lakestage-staging"`
	ChangeTopic       string        `env:"KAFKA_CHANGE_TOPIC" envDefault:"lakestage.catalog.changes"`
	ChangeGroup       string        `env:"KAFKA_CHANGE_GROUP" envDefault:"lakestage-mirror"`
	DeadLetterTopic   string        `env:"KAFKA_DEAD_LETTER_TOPIC" envDefault:"lakestage.catalog.deadletter"`
	Retries           int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`
	CompressionCodec  string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize         int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout      time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
	MaxWait           time.Duration `env:"KAFKA_MAX_WAIT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider      string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint      string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region        string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	RawBucket     string `env:"STORAGE_RAW_BUCKET" envDefault:"lakestage-raw"`
	StagingBucket string `env:"STORAGE_STAGING_BUCKET" envDefault:"lakestage-staging"`
	FailedBucket  string `env:"STORAGE_FAILED_BUCKET" envDefault:"lakestage-failed"`
	AccessKey     string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey     string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL        bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type CatalogConfig struct {
	Path     string `env:"CATALOG_PATH" envDefault:"/var/lib/lakestage/catalog"`
	InMemory bool   `env:"CATALOG_IN_MEMORY" envDefault:"false"`
}

type SearchConfig struct {
	Addresses []string `env:"SEARCH_ADDRESSES" envSeparator:"," envDefault:"http://localhost:9200"`
	Index     string   `env:"SEARCH_INDEX" envDefault:"data-catalog"`
	Username  string   `env:"SEARCH_USERNAME"`
	Password  string   `env:"SEARCH_PASSWORD"`
}

type PipelineConfig struct {
	Workers            int           `env:"PIPELINE_WORKERS" envDefault:"16"`
	StepTimeout        time.Duration `env:"PIPELINE_STEP_TIMEOUT" envDefault:"30s"`
	StepMaxAttempts    int           `env:"PIPELINE_STEP_MAX_ATTEMPTS" envDefault:"3"`
	StepBackoff        time.Duration `env:"PIPELINE_STEP_BACKOFF" envDefault:"200ms"`
	RunTimeout         time.Duration `env:"PIPELINE_RUN_TIMEOUT" envDefault:"5m"`
	MoveMaxAttempts    int           `env:"PIPELINE_MOVE_MAX_ATTEMPTS" envDefault:"4"`
	MoveBackoff        time.Duration `env:"PIPELINE_MOVE_BACKOFF" envDefault:"250ms"`
	MirrorMaxAttempts  int           `env:"PIPELINE_MIRROR_MAX_ATTEMPTS" envDefault:"5"`
	MirrorBackoff      time.Duration `env:"PIPELINE_MIRROR_BACKOFF" envDefault:"500ms"`
	MaxValidationBytes int64         `env:"PIPELINE_MAX_VALIDATION_BYTES" envDefault:"104857600"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=lakestage"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
