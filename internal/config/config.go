package config

import (
	"os"
	"time"

	"parlo/internal/gateway"
	"parlo/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	} `yaml:"log"`

	Backend struct {
		URL         string `yaml:"url" env:"PARLO_BACKEND_URL"`
		APIKey      string `yaml:"api_key" env:"PARLO_API_KEY"`
		TimeoutMs   int    `yaml:"timeout_ms" env:"PARLO_TIMEOUT_MS" env-default:"20000"`
		MaxRetries  int    `yaml:"max_retries" env:"PARLO_MAX_RETRIES" env-default:"2"`
		BaseDelayMs int    `yaml:"base_delay_ms" env:"PARLO_BASE_DELAY_MS" env-default:"1000"`
		JitterMs    int    `yaml:"jitter_ms" env:"PARLO_JITTER_MS" env-default:"1000"`
	} `yaml:"backend"`

	Connectivity struct {
		ProbeAddr      string `yaml:"probe_addr" env:"PARLO_PROBE_ADDR" env-default:"1.1.1.1:443"`
		ProbeTimeoutMs int    `yaml:"probe_timeout_ms" env:"PARLO_PROBE_TIMEOUT_MS" env-default:"3000"`
		CacheTTLMs     int    `yaml:"cache_ttl_ms" env:"PARLO_PROBE_CACHE_TTL_MS" env-default:"5000"`
		PollIntervalMs int    `yaml:"poll_interval_ms" env:"PARLO_PROBE_POLL_MS" env-default:"10000"`
	} `yaml:"connectivity"`

	Storage struct {
		// Backend is "file" or "redis"
		Backend  string `yaml:"backend" env:"PARLO_STORAGE_BACKEND" env-default:"file"`
		FilePath string `yaml:"file_path" env:"PARLO_STORAGE_FILE" env-default:"data/parlo.json"`

		Redis struct {
			Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
			Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
			DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Audio struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	} `yaml:"audio"`

	History struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"history"`

	Drain struct {
		IntervalMs  int `yaml:"interval_ms" env:"PARLO_DRAIN_INTERVAL_MS" env-default:"60000"`
		MaxAttempts int `yaml:"max_attempts" env:"PARLO_DRAIN_MAX_ATTEMPTS" env-default:"5"`
		Concurrency int `yaml:"concurrency" env:"PARLO_DRAIN_CONCURRENCY" env-default:"2"`
	} `yaml:"drain"`

	Settings struct {
		DebounceMs int `yaml:"debounce_ms" env:"PARLO_SETTINGS_DEBOUNCE_MS" env-default:"800"`
	} `yaml:"settings"`
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("configs/config.yaml", &cfg); err != nil {
			return nil, err
		}
		if err := cleanenv.UpdateEnv(&cfg); err != nil {
			return nil, err
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	}

	logger.Info("Config loaded successfully")
	return &cfg, nil
}

// GatewayConfig translates the backend section into gateway settings.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Timeout:    time.Duration(c.Backend.TimeoutMs) * time.Millisecond,
		MaxRetries: c.Backend.MaxRetries,
		BaseDelay:  time.Duration(c.Backend.BaseDelayMs) * time.Millisecond,
		Jitter:     time.Duration(c.Backend.JitterMs) * time.Millisecond,
	}
}
