// Package config defines the top-level configuration for the futures bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUTBOT_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Strategy StrategyConfig `toml:"strategy"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds Binance USD-M futures API parameters.
type BinanceConfig struct {
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	BaseURL    string `toml:"base_url"`
	WsURL      string `toml:"ws_url"`
	RecvWindow int    `toml:"recv_window"`
	Testnet    bool   `toml:"testnet"`
	// RequestsPerMinute caps signed REST calls through the local limiter.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// TradingConfig holds order sizing and bracket parameters.
type TradingConfig struct {
	Symbols         []string  `toml:"symbols"`
	Leverage        int       `toml:"leverage"`
	PositionSizeUSD float64   `toml:"position_size_usd"`
	StopLossPct     float64   `toml:"stop_loss_pct"`
	TakeProfitPcts  []float64 `toml:"take_profit_pcts"`
	TakeProfitFracs []float64 `toml:"take_profit_fracs"`
	TrailingEnabled bool      `toml:"trailing_enabled"`
	TrailingPct     float64   `toml:"trailing_pct"`
}

// RiskConfig holds the admission-gate thresholds.
type RiskConfig struct {
	MinSignalStrength  float64  `toml:"min_signal_strength"`
	MaxDailyLossPct    float64  `toml:"max_daily_loss_pct"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	DisplacementFactor float64  `toml:"displacement_factor"`
	MaxATRRatio        float64  `toml:"max_atr_ratio"`
	Cooldown           duration `toml:"cooldown"`
}

// MonitorConfig holds position-monitor loop timings and liquidation
// alert thresholds.
type MonitorConfig struct {
	PollInterval       duration `toml:"poll_interval"`
	ErrorBackoff       duration `toml:"error_backoff"`
	LiquidationWarnPct float64  `toml:"liquidation_warn_pct"`
	LiquidationExitPct float64  `toml:"liquidation_exit_pct"`
}

// StrategyConfig holds signal-generation parameters.
type StrategyConfig struct {
	Timeframes    []string `toml:"timeframes"`
	KlineLimit    int      `toml:"kline_limit"`
	CycleInterval duration `toml:"cycle_interval"`
	ATRPeriod     int      `toml:"atr_period"`
	RSIPeriod     int      `toml:"rsi_period"`
	RSIOverbought float64  `toml:"rsi_overbought"`
	RSIOversold   float64  `toml:"rsi_oversold"`
	STPeriod      int      `toml:"supertrend_period"`
	STMultiplier  float64  `toml:"supertrend_multiplier"`
	VWAPPeriod    int      `toml:"vwap_period"`
	OBVPeriod     int      `toml:"obv_period"`
	// RiskPerTrade is the fraction of available balance risked per
	// entry before leverage.
	RiskPerTrade float64 `toml:"risk_per_trade"`
	MinLeverage  int     `toml:"min_leverage"`
	MaxLeverage  int     `toml:"max_leverage"`
	// Volatility tier boundaries (ATR / price) for leverage selection.
	VolLowThreshold    float64 `toml:"vol_low_threshold"`
	VolMediumThreshold float64 `toml:"vol_medium_threshold"`
}

// PostgresConfig holds PostgreSQL connection parameters for the
// trade-history store.
type PostgresConfig struct {
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

// S3Config holds S3-compatible object storage parameters for trade
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveInterval is how often the archiver sweeps closed trades
	// out to object storage.
	ArchiveInterval duration `toml:"archive_interval"`
	// RetentionDays is how long closed trades stay in PostgreSQL
	// before archival.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds HTTP status-server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials. MinSeverity
// filters outbound events: info, success, warning, error, emergency.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	MinSeverity       string `toml:"min_severity"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "1m".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			BaseURL:           "https://fapi.binance.com",
			WsURL:             "wss://fstream.binance.com",
			RecvWindow:        5000,
			RequestsPerMinute: 1100,
		},
		Trading: TradingConfig{
			Symbols:         []string{"BTCUSDT", "ETHUSDT"},
			Leverage:        5,
			PositionSizeUSD: 100.0,
			StopLossPct:     0.02,
			TakeProfitPcts:  []float64{0.01, 0.02, 0.035},
			TakeProfitFracs: []float64{0.5, 0.3, 0.2},
			TrailingEnabled: false,
			TrailingPct:     0.01,
		},
		Risk: RiskConfig{
			MinSignalStrength:  0.35,
			MaxDailyLossPct:    0.05,
			MaxConcurrent:      5,
			DisplacementFactor: 1.2,
			MaxATRRatio:        0.05,
			Cooldown:           duration{60 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:       duration{5 * time.Second},
			ErrorBackoff:       duration{10 * time.Second},
			LiquidationWarnPct: 0.10,
			LiquidationExitPct: 0.05,
		},
		Strategy: StrategyConfig{
			Timeframes:         []string{"1m", "5m", "15m"},
			KlineLimit:         100,
			CycleInterval:      duration{10 * time.Second},
			ATRPeriod:          14,
			RSIPeriod:          14,
			RSIOverbought:      70,
			RSIOversold:        30,
			STPeriod:           10,
			STMultiplier:       3.0,
			VWAPPeriod:         20,
			OBVPeriod:          14,
			RiskPerTrade:       0.02,
			MinLeverage:        2,
			MaxLeverage:        10,
			VolLowThreshold:    0.01,
			VolMediumThreshold: 0.03,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "futbot",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "futbot-data",
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			MinSeverity: "info",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"close":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSeverities enumerates the accepted values for Notify.MinSeverity.
var validSeverities = map[string]bool{
	"info":      true,
	"success":   true,
	"warning":   true,
	"error":     true,
	"emergency": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, close)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance — credentials are mandatory for every mode that signs requests.
	needsKeys := c.Mode == "trade" || c.Mode == "monitor" || c.Mode == "close"
	if needsKeys {
		if c.Binance.ApiKey == "" {
			errs = append(errs, "binance: api_key is required for mode "+c.Mode)
		}
		if c.Binance.ApiSecret == "" {
			errs = append(errs, "binance: api_secret is required for mode "+c.Mode)
		}
	}
	if c.Binance.BaseURL == "" {
		errs = append(errs, "binance: base_url must not be empty")
	}
	if c.Binance.RecvWindow <= 0 {
		errs = append(errs, "binance: recv_window must be positive")
	}
	if c.Binance.RequestsPerMinute < 1 {
		errs = append(errs, "binance: requests_per_minute must be >= 1")
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, "trading: at least one symbol is required")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be 1-125, got %d", c.Trading.Leverage))
	}
	if c.Trading.PositionSizeUSD <= 0 {
		errs = append(errs, "trading: position_size_usd must be > 0")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		errs = append(errs, "trading: stop_loss_pct must be in (0, 1)")
	}
	if len(c.Trading.TakeProfitPcts) != len(c.Trading.TakeProfitFracs) {
		errs = append(errs, "trading: take_profit_pcts and take_profit_fracs must have equal length")
	}
	var fracSum float64
	for _, f := range c.Trading.TakeProfitFracs {
		fracSum += f
	}
	if len(c.Trading.TakeProfitFracs) > 0 && (fracSum < 0.999 || fracSum > 1.001) {
		errs = append(errs, fmt.Sprintf("trading: take_profit_fracs must sum to 1.0, got %v", fracSum))
	}

	// Risk
	if c.Risk.MinSignalStrength <= 0 || c.Risk.MinSignalStrength > 1 {
		errs = append(errs, "risk: min_signal_strength must be in (0, 1]")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct >= 1 {
		errs = append(errs, "risk: max_daily_loss_pct must be in (0, 1)")
	}
	if c.Risk.MaxConcurrent < 1 {
		errs = append(errs, "risk: max_concurrent must be >= 1")
	}
	if c.Risk.DisplacementFactor < 1 {
		errs = append(errs, "risk: displacement_factor must be >= 1")
	}
	if c.Risk.MaxATRRatio <= 0 {
		errs = append(errs, "risk: max_atr_ratio must be > 0")
	}
	if c.Risk.Cooldown.Duration < 0 {
		errs = append(errs, "risk: cooldown must not be negative")
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.ErrorBackoff.Duration <= 0 {
		errs = append(errs, "monitor: error_backoff must be > 0")
	}

	// Strategy
	if c.Strategy.KlineLimit < 20 {
		errs = append(errs, "strategy: kline_limit must be >= 20")
	}
	if c.Strategy.CycleInterval.Duration <= 0 {
		errs = append(errs, "strategy: cycle_interval must be > 0")
	}
	if len(c.Strategy.Timeframes) == 0 {
		errs = append(errs, "strategy: timeframes must not be empty")
	}
	if c.Strategy.RiskPerTrade <= 0 || c.Strategy.RiskPerTrade > 0.5 {
		errs = append(errs, fmt.Sprintf("strategy: risk_per_trade must be in (0, 0.5], got %v", c.Strategy.RiskPerTrade))
	}
	if c.Strategy.MinLeverage < 1 || c.Strategy.MaxLeverage < c.Strategy.MinLeverage {
		errs = append(errs, "strategy: leverage bounds must satisfy 1 <= min <= max")
	}

	// Postgres. Empty DSN and host together disable trade history.
	if strings.TrimSpace(c.Postgres.DSN) != "" || c.Postgres.Host != "" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
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

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q (valid: info, success, warning, error, emergency)", c.Notify.MinSeverity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
