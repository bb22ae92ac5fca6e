package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	// The testnet flag rewrites the endpoints unless the operator pinned
	// explicit URLs.
	if cfg.Binance.Testnet {
		if cfg.Binance.BaseURL == Defaults().Binance.BaseURL {
			cfg.Binance.BaseURL = "https://testnet.binancefuture.com"
		}
		if cfg.Binance.WsURL == Defaults().Binance.WsURL {
			cfg.Binance.WsURL = "wss://stream.binancefuture.com"
		}
	}

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "FUTBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "FUTBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.BaseURL, "FUTBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.WsURL, "FUTBOT_BINANCE_WS_URL")
	setInt(&cfg.Binance.RecvWindow, "FUTBOT_BINANCE_RECV_WINDOW")
	setBool(&cfg.Binance.Testnet, "FUTBOT_BINANCE_TESTNET")
	setInt(&cfg.Binance.RequestsPerMinute, "FUTBOT_BINANCE_REQUESTS_PER_MINUTE")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "FUTBOT_TRADING_SYMBOLS")
	setInt(&cfg.Trading.Leverage, "FUTBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.PositionSizeUSD, "FUTBOT_TRADING_POSITION_SIZE_USD")
	setFloat64(&cfg.Trading.StopLossPct, "FUTBOT_TRADING_STOP_LOSS_PCT")
	setBool(&cfg.Trading.TrailingEnabled, "FUTBOT_TRADING_TRAILING_ENABLED")
	setFloat64(&cfg.Trading.TrailingPct, "FUTBOT_TRADING_TRAILING_PCT")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinSignalStrength, "FUTBOT_RISK_MIN_SIGNAL_STRENGTH")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "FUTBOT_RISK_MAX_DAILY_LOSS_PCT")
	setInt(&cfg.Risk.MaxConcurrent, "FUTBOT_RISK_MAX_CONCURRENT")
	setFloat64(&cfg.Risk.DisplacementFactor, "FUTBOT_RISK_DISPLACEMENT_FACTOR")
	setFloat64(&cfg.Risk.MaxATRRatio, "FUTBOT_RISK_MAX_ATR_RATIO")
	setDuration(&cfg.Risk.Cooldown, "FUTBOT_RISK_COOLDOWN")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "FUTBOT_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.ErrorBackoff, "FUTBOT_MONITOR_ERROR_BACKOFF")
	setFloat64(&cfg.Monitor.LiquidationWarnPct, "FUTBOT_MONITOR_LIQUIDATION_WARN_PCT")
	setFloat64(&cfg.Monitor.LiquidationExitPct, "FUTBOT_MONITOR_LIQUIDATION_EXIT_PCT")

	// ── Strategy ──
	setInt(&cfg.Strategy.KlineLimit, "FUTBOT_STRATEGY_KLINE_LIMIT")
	setDuration(&cfg.Strategy.CycleInterval, "FUTBOT_STRATEGY_CYCLE_INTERVAL")
	setInt(&cfg.Strategy.ATRPeriod, "FUTBOT_STRATEGY_ATR_PERIOD")
	setInt(&cfg.Strategy.RSIPeriod, "FUTBOT_STRATEGY_RSI_PERIOD")
	setInt(&cfg.Strategy.STPeriod, "FUTBOT_STRATEGY_SUPERTREND_PERIOD")
	setFloat64(&cfg.Strategy.STMultiplier, "FUTBOT_STRATEGY_SUPERTREND_MULTIPLIER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUTBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUTBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FUTBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUTBOT_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "FUTBOT_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUTBOT_MODE")
	setStr(&cfg.LogLevel, "FUTBOT_LOG_LEVEL")
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
