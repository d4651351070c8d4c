package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Bus and saga-store driver names.
const (
	BusDriverInProcess = "inprocess"
	BusDriverKafka     = "kafka"

	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"meridian"`

	BusDriver    string   `env:"BUS_DRIVER" envDefault:"inprocess"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`

	SagaStoreDriver string `env:"SAGA_STORE_DRIVER" envDefault:"memory"`
	PostgresDSN     string `env:"POSTGRES_DSN"`
	SQLitePath      string `env:"SQLITE_PATH"`

	SagaTimeout          time.Duration `env:"SAGA_TIMEOUT" envDefault:"5m"`
	TimeoutScanInterval  time.Duration `env:"SAGA_TIMEOUT_SCAN_INTERVAL" envDefault:"30s"`
	PaymentRetryInterval time.Duration `env:"PAYMENT_RETRY_INTERVAL" envDefault:"1m"`

	PublishMaxRetries     uint64        `env:"PUBLISH_MAX_RETRIES" envDefault:"5"`
	PublishInitialBackoff time.Duration `env:"PUBLISH_INITIAL_BACKOFF" envDefault:"100ms"`
	PublishMaxBackoff     time.Duration `env:"PUBLISH_MAX_BACKOFF" envDefault:"5s"`

	BreakerConsecutiveFailures int           `env:"BREAKER_CONSECUTIVE_FAILURES" envDefault:"5"`
	BreakerFailureRate         float64       `env:"BREAKER_FAILURE_RATE" envDefault:"0.5"`
	BreakerWindowSize          int           `env:"BREAKER_WINDOW_SIZE" envDefault:"10"`
	BreakerOpenDuration        time.Duration `env:"BREAKER_OPEN_DURATION" envDefault:"30s"`
	BreakerHalfOpenTrials      int           `env:"BREAKER_HALF_OPEN_TRIALS" envDefault:"3"`
}

// Load reads configuration from the environment and validates driver
// combinations up front so bootstrap fails fast.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	switch cfg.BusDriver {
	case BusDriverInProcess, BusDriverKafka:
	default:
		return Config{}, fmt.Errorf("unknown BUS_DRIVER %q", cfg.BusDriver)
	}

	switch cfg.SagaStoreDriver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("POSTGRES_DSN is required with SAGA_STORE_DRIVER=postgres")
		}
	case StoreDriverSQLite:
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required with SAGA_STORE_DRIVER=sqlite")
		}
	default:
		return Config{}, fmt.Errorf("unknown SAGA_STORE_DRIVER %q", cfg.SagaStoreDriver)
	}

	return cfg, nil
}
