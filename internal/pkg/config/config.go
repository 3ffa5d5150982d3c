package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresURL string `env:"POSTGRES_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR"`

	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":9091"`

	FirstKeyThreshold int64         `env:"FIRST_KEY_THRESHOLD" envDefault:"5000"`
	BalanceCacheTTL   time.Duration `env:"BALANCE_CACHE_TTL" envDefault:"30s"`
	KeyCacheTTL       time.Duration `env:"KEY_CACHE_TTL" envDefault:"5m"`

	WorkflowTTL  time.Duration `env:"WORKFLOW_TTL" envDefault:"1h"`
	ReapInterval time.Duration `env:"REAP_INTERVAL" envDefault:"5m"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`

	MTNBaseURL           string `env:"MTN_BASE_URL" envDefault:"https://sandbox.momodeveloper.mtn.com"`
	MTNSubscriptionKey   string `env:"MTN_SUBSCRIPTION_KEY"`
	MTNTargetEnvironment string `env:"MTN_TARGET_ENVIRONMENT" envDefault:"mtnliberia"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
