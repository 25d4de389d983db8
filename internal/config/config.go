// Package config содержит логику чтения конфигурации витрины.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации витрины.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	DatabasePath string `env:"DATABASE_PATH"`
	RedisAddr    string `env:"REDIS_ADDR"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	BotToken          string  `env:"BOT_TOKEN"`
	TelegramAPIURL    string  `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	AdminIDs          []int64 `env:"ADMIN_IDS" envSeparator:","`
	ChannelID         string  `env:"CHANNEL_ID"`
	ChannelURL        string  `env:"CHANNEL_URL"`
	CheckSubscription bool    `env:"CHECK_SUBSCRIPTION"`

	JWTSecret string `env:"JWT_SECRET"`
	AppEnv    string `env:"APP_ENV" envDefault:"development"`

	BroadcastDelay    time.Duration `env:"BROADCAST_DELAY" envDefault:"50ms"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`
}

// UsePostgres сообщает, что хранилищем выбран PostgreSQL.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURI != ""
}

// IsAdmin сообщает, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envDatabasePath := cfg.DatabasePath
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL URI, SQLite is used when empty")
	flag.StringVar(&cfg.DatabasePath, "p", "data/shop.db", "SQLite database file")
	flag.StringVar(&cfg.RedisAddr, "r", "", "Redis address for the catalog cache")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDatabasePath != "" {
		cfg.DatabasePath = envDatabasePath
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "data/shop.db"
	}

	if cfg.CheckSubscription && cfg.ChannelID == "" {
		return nil, errors.New("CHECK_SUBSCRIPTION requires CHANNEL_ID")
	}

	return cfg, nil
}
