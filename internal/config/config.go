package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the platform limits the bot is built around.
const (
	DefaultInlineLimit   = 50 << 20 // 50 MiB inline-transfer ceiling
	DefaultDownloadLimit = 2 << 30  // 2 GiB remote-fetch ceiling
	DefaultExpiration    = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Config represents runtime configuration for the bot and file host.
type Config struct {
	BasicConfig BasicConfig `json:"basic_config"`
	Redis       RedisConfig `json:"redis"`
}

type BasicConfig struct {
	BotToken      string `json:"bot_token"`
	PublicURL     string `json:"public_url"`
	ServerAddress string `json:"server_address"`
	StorageDir    string `json:"storage_dir"`
	ServeDir      string `json:"serve_dir"`
	DatabasePath  string `json:"database_path"`
	TokenBackend  string `json:"token_backend"` // "memory" (default) or "redis"

	InlineLimitBytes   int64 `json:"inline_limit_bytes"`
	DownloadLimitBytes int64 `json:"download_limit_bytes"`
	ExpirationHours    int   `json:"expiration_hours"`
	SweepMinutes       int   `json:"sweep_minutes"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Load reads configuration from the provided path (defaults to
// config.json), then applies .env and environment-variable overrides.
// A missing config file is not an error; env alone can configure the
// process.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	file, err := os.Open(absPath)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	b := &cfg.BasicConfig
	overrideString(&b.BotToken, "BOT_TOKEN")
	overrideString(&b.PublicURL, "PUBLIC_URL")
	overrideString(&b.ServerAddress, "SERVER_ADDRESS")
	overrideString(&b.StorageDir, "PDF_STORAGE_DIR")
	overrideString(&b.ServeDir, "WEB_SERVE_DIR")
	overrideString(&b.DatabasePath, "DATABASE_PATH")
	overrideString(&b.TokenBackend, "TOKEN_BACKEND")
	overrideInt64(&b.InlineLimitBytes, "INLINE_LIMIT_BYTES")
	overrideInt64(&b.DownloadLimitBytes, "DOWNLOAD_LIMIT_BYTES")
	overrideInt(&b.ExpirationHours, "EXPIRATION_HOURS")
	overrideInt(&b.SweepMinutes, "SWEEP_MINUTES")
	overrideString(&cfg.Redis.Host, "REDIS_HOST")
	overrideInt(&cfg.Redis.Port, "REDIS_PORT")
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8000"
	}
	if b.StorageDir == "" {
		b.StorageDir = "stored_pdfs"
	}
	if b.ServeDir == "" {
		b.ServeDir = "web_serve"
	}
	if b.DatabasePath == "" {
		b.DatabasePath = "pdfsplitbot.db"
	}
	if b.TokenBackend == "" {
		b.TokenBackend = "memory"
	}
	if b.InlineLimitBytes <= 0 {
		b.InlineLimitBytes = DefaultInlineLimit
	}
	if b.DownloadLimitBytes <= 0 {
		b.DownloadLimitBytes = DefaultDownloadLimit
	}
	if b.ExpirationHours <= 0 {
		b.ExpirationHours = int(DefaultExpiration / time.Hour)
	}
	if b.SweepMinutes <= 0 {
		b.SweepMinutes = int(DefaultSweepInterval / time.Minute)
	}
}

// Expiration returns the token/file expiration window.
func (c *Config) Expiration() time.Duration {
	return time.Duration(c.BasicConfig.ExpirationHours) * time.Hour
}

// SweepInterval returns the serve-directory reclamation period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.BasicConfig.SweepMinutes) * time.Minute
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func overrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
