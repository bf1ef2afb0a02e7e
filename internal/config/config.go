package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full application configuration, persisted as config.json
// in the app data directory. A default file is written on first run.
type Config struct {
	AutoSync            bool `json:"auto_sync"`
	SyncIntervalMinutes int  `json:"sync_interval_minutes"`
	StuckAfterMinutes   int  `json:"stuck_after_minutes"`

	HTTPAddr string `json:"http_addr"`

	Database DatabaseConfig `json:"database"`
	API      APIConfig      `json:"external_api"`
	Reorder  ReorderConfig  `json:"reorder"`
	Kafka    KafkaConfig    `json:"kafka"`
	Redis    RedisConfig    `json:"redis"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite | mysql | postgres
	DSN    string `json:"dsn"`    // empty for sqlite -> file in app dir
}

// APIConfig describes the external inventory-management API. The provider
// authenticates with an account path plus key/secret pair and publishes a
// hard rate limit of 2 requests per second.
type APIConfig struct {
	BaseURL     string `json:"base_url"`
	AccountPath string `json:"account_path"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`

	RateLimitPerSec float64 `json:"rate_limit_per_sec"`
	QueueMaxDepth   int     `json:"queue_max_depth"`
	PageSize        int     `json:"page_size"`
	MaxPages        int     `json:"max_pages"`
	MaxRetries      int     `json:"max_retries"`
	RetryBaseMs     int     `json:"retry_base_ms"`
	RetryMaxMs      int     `json:"retry_max_ms"`
}

// ReorderConfig holds the cost parameters feeding the EOQ formula.
type ReorderConfig struct {
	OrderCost       float64 `json:"order_cost"`
	HoldingCostRate float64 `json:"holding_cost_rate"`
	MinHoldingCost  float64 `json:"min_holding_cost"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// LoadOrCreate reads config.json, writing a default one when missing.
// The second return reports whether this was a first run.
func LoadOrCreate(path string) (*Config, bool, error) {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("write default config: %w", err)
			}
			cfg.applyEnv()
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return &cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func Default() *Config {
	return &Config{
		AutoSync:            false,
		SyncIntervalMinutes: 60,
		StuckAfterMinutes:   30,
		HTTPAddr:            ":8080",
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		API: APIConfig{
			BaseURL:         "https://api.example.com",
			AccountPath:     "accounts/demo",
			APIKey:          "key_xxx",
			APISecret:       "secret_xxx",
			RateLimitPerSec: 2,
			QueueMaxDepth:   100,
			PageSize:        100,
			MaxPages:        500,
			MaxRetries:      3,
			RetryBaseMs:     500,
			RetryMaxMs:      8000,
		},
		Reorder: ReorderConfig{
			OrderCost:       25,
			HoldingCostRate: 0.2,
			MinHoldingCost:  1,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "stock-events",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			TTLSeconds: 60,
		},
	}
}

// applyEnv lets deploy-specific values and credentials override the file.
// A .env next to the binary is honored if present.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("RESTOCKD_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("RESTOCKD_ACCOUNT_PATH"); v != "" {
		c.API.AccountPath = v
	}
	if v := os.Getenv("RESTOCKD_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("RESTOCKD_API_SECRET"); v != "" {
		c.API.APISecret = v
	}
	if v := os.Getenv("RESTOCKD_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("RESTOCKD_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("RESTOCKD_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("RESTOCKD_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("RESTOCKD_STUCK_AFTER_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StuckAfterMinutes = n
		}
	}
}
