// Package config defines the top-level configuration for windowbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by WINDOWBOT_* environment
// variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Feed     FeedConfig     `toml:"feed"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Risk     RiskConfig     `toml:"risk"`
	Ladder   LadderConfig   `toml:"ladder"`
	Advisory AdvisoryConfig `toml:"advisory"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Bots     []BotConfig    `toml:"bots"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds exchange API credentials and endpoints.
type ExchangeConfig struct {
	BaseURL           string `toml:"base_url"`
	ApiKeyID          string `toml:"api_key_id"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
}

// FeedConfig holds the market-data feed endpoints.
type FeedConfig struct {
	WsURL       string `toml:"ws_url"`
	CandlesURL  string `toml:"candles_url"`
	PingSeconds int    `toml:"ping_seconds"`
}

// StoreConfig holds the durable file store location.
type StoreConfig struct {
	Dir string `toml:"dir"`
}

// PostgresConfig holds the optional reporting/audit database parameters.
// When Enabled is false the file store's audit log is the only audit sink.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the ledger archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds the shared capital gate parameters. Sizing tiers apply a
// larger capital fraction when the account is small.
type RiskConfig struct {
	BalanceRefresh duration `toml:"balance_refresh"`
	CapitalFloor   float64  `toml:"capital_floor"`
	SizeFloorUSD   float64  `toml:"size_floor_usd"`
	SizeCeilingUSD float64  `toml:"size_ceiling_usd"`
}

// LadderConfig holds spread-ladder execution parameters. Prices move in
// one-cent ticks.
type LadderConfig struct {
	MaxSteps         int      `toml:"max_steps"`
	StepInterval     duration `toml:"step_interval"`
	DiscountCents    int      `toml:"discount_cents"`
	DirectSpreadTick int      `toml:"direct_spread_ticks"`
	MinMinutes       float64  `toml:"min_minutes"`
	DeepBookCount    int64    `toml:"deep_book_count"`
}

// AdvisoryConfig holds the external advisory oracle endpoint.
type AdvisoryConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// ServerConfig holds the operator HTTP API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BotConfig describes one named, independently schedulable bot instance.
// The set of ids in the config file is the start/stop allowlist.
type BotConfig struct {
	ID                  string   `toml:"id"`
	Enabled             bool     `toml:"enabled"`
	Granularity         string   `toml:"granularity"` // "15m" or "1h"
	TickInterval        duration `toml:"tick_interval"`
	Series              string   `toml:"series"` // exchange series ticker prefix
	Symbol              string   `toml:"symbol"` // underlying feed symbol
	Signal              string   `toml:"signal"` // "momentum" or "advisory"
	Legs                int      `toml:"legs"`   // independent sub-ledgers, 1 or 2
	CapitalPerWindow    float64  `toml:"capital_per_window"`
	CapitalPerTrade     float64  `toml:"capital_per_trade"`
	MaxDailyLoss        float64  `toml:"max_daily_loss"`
	MaxEntriesPerWindow int      `toml:"max_entries_per_window"`
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	EntryFloorCents     int      `toml:"entry_floor_cents"`
	EntryCeilingCents   int      `toml:"entry_ceiling_cents"`
	EntryCutoffMinutes  float64  `toml:"entry_cutoff_minutes"`
	HardStopProb        float64  `toml:"hard_stop_prob"`
	ProfitLockMinutes   float64  `toml:"profit_lock_minutes"`
	StaleGrace          duration `toml:"stale_grace"`
	ExitCooldown        duration `toml:"exit_cooldown"`
	AdvisoryInterval    duration `toml:"advisory_interval"`
}

// WindowGranularity returns the typed granularity for the bot.
func (b BotConfig) WindowGranularity() domain.Granularity {
	if b.Granularity == "1h" {
		return domain.GranularityHourly
	}
	return domain.Granularity15Min
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Feed: FeedConfig{
			WsURL:       "wss://api.elections.kalshi.com/trade-api/ws/v2",
			PingSeconds: 10,
		},
		Store: StoreConfig{
			Dir: "data",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "windowbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "windowbot-ledger",
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			BalanceRefresh: duration{60 * time.Second},
			CapitalFloor:   5.0,
			SizeFloorUSD:   1.0,
			SizeCeilingUSD: 50.0,
		},
		Ladder: LadderConfig{
			MaxSteps:         6,
			StepInterval:     duration{3 * time.Second},
			DiscountCents:    2,
			DirectSpreadTick: 2,
			MinMinutes:       3.0,
			DeepBookCount:    50,
		},
		Advisory: AdvisoryConfig{
			Timeout: duration{20 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_settled", "daily_loss_pause", "stale_recovery", "accidental_fill", "error"},
		},
		LogLevel: "info",
	}
}

// BotDefaults returns a BotConfig with per-instance default values; the
// loader merges these under every [[bots]] entry before decoding.
func BotDefaults() BotConfig {
	return BotConfig{
		Enabled:             true,
		Granularity:         "15m",
		TickInterval:        duration{5 * time.Second},
		Signal:              "momentum",
		Legs:                1,
		CapitalPerWindow:    20.0,
		CapitalPerTrade:     10.0,
		MaxDailyLoss:        25.0,
		MaxEntriesPerWindow: 1,
		ConfidenceThreshold: 0.6,
		EntryFloorCents:     5,
		EntryCeilingCents:   48,
		EntryCutoffMinutes:  2.0,
		HardStopProb:        0.10,
		ProfitLockMinutes:   2.0,
		StaleGrace:          duration{10 * time.Minute},
		ExitCooldown:        duration{60 * time.Second},
		AdvisoryInterval:    duration{3 * time.Minute},
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validGranularities enumerates the accepted window granularities.
var validGranularities = map[string]bool{
	"15m": true,
	"1h":  true,
}

// validSignals enumerates the accepted signal provider names.
var validSignals = map[string]bool{
	"momentum": true,
	"advisory": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.ApiKeyID == "" {
		errs = append(errs, "exchange: api_key_id must not be empty")
	}
	if c.Exchange.RsaPrivateKeyPath == "" && c.Exchange.EncryptedKeyPath == "" {
		errs = append(errs, "exchange: either rsa_private_key_path or encrypted_key_path must be set")
	}
	if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
		errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
	}

	// Store
	if c.Store.Dir == "" {
		errs = append(errs, "store: dir must not be empty")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Risk
	if c.Risk.CapitalFloor < 0 {
		errs = append(errs, "risk: capital_floor must be >= 0")
	}
	if c.Risk.SizeFloorUSD <= 0 {
		errs = append(errs, "risk: size_floor_usd must be > 0")
	}
	if c.Risk.SizeCeilingUSD < c.Risk.SizeFloorUSD {
		errs = append(errs, "risk: size_ceiling_usd must be >= size_floor_usd")
	}

	// Ladder
	if c.Ladder.MaxSteps < 1 {
		errs = append(errs, "ladder: max_steps must be >= 1")
	}
	if c.Ladder.DiscountCents < 1 {
		errs = append(errs, "ladder: discount_cents must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Bots
	if len(c.Bots) == 0 {
		errs = append(errs, "bots: at least one [[bots]] entry is required")
	}
	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		if b.ID == "" {
			errs = append(errs, prefix+": id must not be empty")
		} else if seen[b.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", prefix, b.ID))
		}
		seen[b.ID] = true
		if !validGranularities[b.Granularity] {
			errs = append(errs, fmt.Sprintf("%s: granularity must be 15m or 1h, got %q", prefix, b.Granularity))
		}
		if b.TickInterval.Duration < 3*time.Second || b.TickInterval.Duration > 10*time.Second {
			errs = append(errs, fmt.Sprintf("%s: tick_interval must be between 3s and 10s, got %s", prefix, b.TickInterval))
		}
		if b.Series == "" {
			errs = append(errs, prefix+": series must not be empty")
		}
		if b.Symbol == "" {
			errs = append(errs, prefix+": symbol must not be empty")
		}
		if !validSignals[b.Signal] {
			errs = append(errs, fmt.Sprintf("%s: signal must be momentum or advisory, got %q", prefix, b.Signal))
		}
		if b.Signal == "advisory" && c.Advisory.URL == "" {
			errs = append(errs, fmt.Sprintf("%s: advisory.url must be set for advisory bots", prefix))
		}
		if b.Legs != 1 && b.Legs != 2 {
			errs = append(errs, fmt.Sprintf("%s: legs must be 1 or 2, got %d", prefix, b.Legs))
		}
		if b.CapitalPerWindow <= 0 {
			errs = append(errs, prefix+": capital_per_window must be > 0")
		}
		if b.CapitalPerTrade <= 0 {
			errs = append(errs, prefix+": capital_per_trade must be > 0")
		}
		if b.MaxDailyLoss <= 0 {
			errs = append(errs, prefix+": max_daily_loss must be > 0")
		}
		if b.MaxEntriesPerWindow < 1 {
			errs = append(errs, prefix+": max_entries_per_window must be >= 1")
		}
		if b.EntryFloorCents < 1 || b.EntryCeilingCents > 99 || b.EntryFloorCents >= b.EntryCeilingCents {
			errs = append(errs, fmt.Sprintf("%s: entry band [%d,%d] cents is invalid", prefix, b.EntryFloorCents, b.EntryCeilingCents))
		}
		if b.HardStopProb <= 0 || b.HardStopProb >= 1 {
			errs = append(errs, prefix+": hard_stop_prob must be in (0,1)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Bot returns the BotConfig with the given id, or false when the id is not
// in the configured allowlist.
func (c *Config) Bot(id string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return BotConfig{}, false
}
