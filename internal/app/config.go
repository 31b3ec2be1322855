package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full process configuration, loaded once at startup.
type Config struct {
	LogMode string `env:"LOG_MODE" envDefault:"development"`
	Port    string `env:"PORT" envDefault:"8080"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresName     string `env:"POSTGRES_NAME" envDefault:"labgraph"`

	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisChannel string `env:"REDIS_EVENT_CHANNEL" envDefault:"labgraph:events"`

	ArxivBaseURL string `env:"ARXIV_BASE_URL"`

	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	StaleRunningAfter  time.Duration `env:"STALE_RUNNING_AFTER" envDefault:"10m"`
	AdminLockTTL       time.Duration `env:"ADMIN_LOCK_TTL" envDefault:"30m"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	AllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresName)
}
