// Package config loads service settings from an optional .env file and the
// process environment. Priority: environment > .env file > defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Store struct {
	DatabaseURL string // PostgreSQL; wins over PebblePath
	PebblePath  string
}

type Oracle struct {
	URL          string
	APIKey       string
	StaticPrices string // "AAPL=190.5,MSFT=410", used when URL is empty
	BatchSize    int
	Timeout      time.Duration
}

type Cache struct {
	RedisURL    string
	PriceTTL    time.Duration // 0 disables price caching
	MetadataTTL time.Duration
}

type Game struct {
	StartingFunds      decimal.Decimal
	BaseCurrency       string
	LeaderboardWorkers int
}

type Config struct {
	Port        string
	CORSOrigins []string
	LogLevel    slog.Level
	Store       Store
	Oracle      Oracle
	Cache       Cache
	Game        Game
}

func Default() Config {
	return Config{
		Port:        "8080",
		CORSOrigins: []string{"*"},
		LogLevel:    slog.LevelInfo,
		Oracle: Oracle{
			StaticPrices: "AAPL=190.5,MSFT=410",
			BatchSize:    50,
			Timeout:      5 * time.Second,
		},
		Cache: Cache{
			MetadataTTL: 24 * time.Hour,
		},
		Game: Game{
			StartingFunds:      decimal.NewFromInt(10000),
			BaseCurrency:       "USD",
			LeaderboardWorkers: 4,
		},
	}
}

// Load reads envPath (or ./.env when empty) if it exists, then applies
// environment overrides to the defaults. A set but malformed value is an
// error rather than a silent fallback.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	p := parser{}

	cfg.Port = getEnv("PORT", cfg.Port)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.Store.PebblePath = os.Getenv("PEBBLE_PATH")

	cfg.Oracle.URL = os.Getenv("ORACLE_URL")
	cfg.Oracle.APIKey = os.Getenv("ORACLE_API_KEY")
	cfg.Oracle.StaticPrices = getEnv("ORACLE_STATIC_PRICES", cfg.Oracle.StaticPrices)
	cfg.Oracle.BatchSize = p.positiveInt("ORACLE_BATCH_SIZE", cfg.Oracle.BatchSize)
	cfg.Oracle.Timeout = p.duration("QUOTE_TIMEOUT", cfg.Oracle.Timeout)

	cfg.Cache.RedisURL = os.Getenv("REDIS_URL")
	cfg.Cache.PriceTTL = p.duration("PRICE_CACHE_TTL", cfg.Cache.PriceTTL)
	cfg.Cache.MetadataTTL = p.duration("METADATA_CACHE_TTL", cfg.Cache.MetadataTTL)

	cfg.Game.StartingFunds = p.money("STARTING_FUNDS", cfg.Game.StartingFunds)
	cfg.Game.BaseCurrency = strings.ToUpper(getEnv("BASE_CURRENCY", cfg.Game.BaseCurrency))
	cfg.Game.LeaderboardWorkers = p.positiveInt("LEADERBOARD_WORKERS", cfg.Game.LeaderboardWorkers)

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			p.fail("LOG_LEVEL", lvl, err)
		}
	}

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// parser keeps the first malformed variable it sees.
type parser struct {
	err error
}

func (p *parser) fail(key, val string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %w", key, val, err)
	}
}

func (p *parser) positiveInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err == nil && n < 1 {
		err = fmt.Errorf("must be at least 1")
	}
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err == nil && d < 0 {
		err = fmt.Errorf("must not be negative")
	}
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) money(key string, def decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err == nil && !d.IsPositive() {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d.Round(2)
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
