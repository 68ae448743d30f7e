package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WINDOWBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Each [[bots]] table is decoded separately on top of BotDefaults so a
	// sparse bot entry inherits per-instance defaults, not zero values.
	var raw struct {
		Bots []toml.Primitive `toml:"bots"`
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	cfg.Bots = cfg.Bots[:0]
	for i, prim := range raw.Bots {
		bot := BotDefaults()
		if err := md.PrimitiveDecode(prim, &bot); err != nil {
			return nil, fmt.Errorf("config: decode bots[%d]: %w", i, err)
		}
		cfg.Bots = append(cfg.Bots, bot)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WINDOWBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "WINDOWBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.ApiKeyID, "WINDOWBOT_EXCHANGE_API_KEY_ID")
	setStr(&cfg.Exchange.RsaPrivateKeyPath, "WINDOWBOT_EXCHANGE_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Exchange.EncryptedKeyPath, "WINDOWBOT_EXCHANGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "WINDOWBOT_EXCHANGE_KEY_PASSWORD")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "WINDOWBOT_FEED_WS_URL")
	setStr(&cfg.Feed.CandlesURL, "WINDOWBOT_FEED_CANDLES_URL")
	setInt(&cfg.Feed.PingSeconds, "WINDOWBOT_FEED_PING_SECONDS")

	// ── Store ──
	setStr(&cfg.Store.Dir, "WINDOWBOT_STORE_DIR")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WINDOWBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WINDOWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WINDOWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WINDOWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WINDOWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WINDOWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WINDOWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WINDOWBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WINDOWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WINDOWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WINDOWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WINDOWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WINDOWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WINDOWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WINDOWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WINDOWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WINDOWBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WINDOWBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WINDOWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WINDOWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WINDOWBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WINDOWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WINDOWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WINDOWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WINDOWBOT_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setDuration(&cfg.Risk.BalanceRefresh, "WINDOWBOT_RISK_BALANCE_REFRESH")
	setFloat64(&cfg.Risk.CapitalFloor, "WINDOWBOT_RISK_CAPITAL_FLOOR")
	setFloat64(&cfg.Risk.SizeFloorUSD, "WINDOWBOT_RISK_SIZE_FLOOR_USD")
	setFloat64(&cfg.Risk.SizeCeilingUSD, "WINDOWBOT_RISK_SIZE_CEILING_USD")

	// ── Ladder ──
	setInt(&cfg.Ladder.MaxSteps, "WINDOWBOT_LADDER_MAX_STEPS")
	setDuration(&cfg.Ladder.StepInterval, "WINDOWBOT_LADDER_STEP_INTERVAL")
	setInt(&cfg.Ladder.DiscountCents, "WINDOWBOT_LADDER_DISCOUNT_CENTS")
	setFloat64(&cfg.Ladder.MinMinutes, "WINDOWBOT_LADDER_MIN_MINUTES")

	// ── Advisory ──
	setStr(&cfg.Advisory.URL, "WINDOWBOT_ADVISORY_URL")
	setStr(&cfg.Advisory.APIKey, "WINDOWBOT_ADVISORY_API_KEY")
	setDuration(&cfg.Advisory.Timeout, "WINDOWBOT_ADVISORY_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WINDOWBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WINDOWBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WINDOWBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WINDOWBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WINDOWBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WINDOWBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WINDOWBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WINDOWBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "WINDOWBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
