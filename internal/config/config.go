package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the GA4U server.
type Config struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN       string        `env:"DB_DSN,required,notEmpty"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	DBConnLifetime    time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	JWTSecret         string        `env:"JWT_SECRET,required,notEmpty"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string        `env:"LOG_FORMAT" envDefault:"console"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	ProfileCacheTTL   time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads an optional .env file and then parses the environment into Config.
// Variables already set in the environment win over the .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	return nil
}
