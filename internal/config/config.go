package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-driven settings.
type Config struct {
	// DatabaseURL is the SQLite DSN (a file path for local deployments).
	DatabaseURL string
	Port        string

	SessionSecret string
	AdminAPIToken string

	// Sports-data provider credentials.
	SportsAPIKey  string
	SportsBaseURL string

	// Premium subscription provider (webhook handling lives outside the core;
	// the keys are still read so deployments fail fast on missing secrets).
	WhopAPIKey        string
	WhopPlanID        string
	WhopWebhookSecret string

	Env           string // "development" or "production"
	DevBypassAuth bool

	BotTickInterval time.Duration

	LogLevel string
	LogFile  string

	CORSOrigins []string
}

// Load reads configuration from the environment, loading a .env file first
// if one is present.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", "sportfolio.db"),
		Port:              getEnv("PORT", "8088"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		AdminAPIToken:     os.Getenv("ADMIN_API_TOKEN"),
		SportsAPIKey:      os.Getenv("MYSPORTSFEEDS_API_KEY"),
		SportsBaseURL:     getEnv("MYSPORTSFEEDS_BASE_URL", "https://api.mysportsfeeds.com/v2.1/pull/nba"),
		WhopAPIKey:        os.Getenv("WHOP_API_KEY"),
		WhopPlanID:        os.Getenv("WHOP_PLAN_ID"),
		WhopWebhookSecret: os.Getenv("WHOP_WEBHOOK_SECRET"),
		Env:               getEnv("NODE_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
	}

	cfg.DevBypassAuth = getBool("DEV_BYPASS_AUTH", false)
	if cfg.DevBypassAuth && cfg.IsProduction() {
		return nil, fmt.Errorf("DEV_BYPASS_AUTH must not be enabled in production")
	}

	botSec := getInt("BOT_TICK_INTERVAL_SEC", 60)
	if botSec < 5 {
		botSec = 5
	}
	cfg.BotTickInterval = time.Duration(botSec) * time.Second

	if cfg.IsProduction() && cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required in production")
	}

	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
