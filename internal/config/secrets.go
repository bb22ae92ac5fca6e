package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Binance
	out.Binance = cfg.Binance
	redact(&out.Binance.ApiKey)
	redact(&out.Binance.ApiSecret)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Trading.Symbols != nil {
		out.Trading.Symbols = make([]string, len(cfg.Trading.Symbols))
		copy(out.Trading.Symbols, cfg.Trading.Symbols)
	}
	if cfg.Trading.TakeProfitPcts != nil {
		out.Trading.TakeProfitPcts = make([]float64, len(cfg.Trading.TakeProfitPcts))
		copy(out.Trading.TakeProfitPcts, cfg.Trading.TakeProfitPcts)
	}
	if cfg.Trading.TakeProfitFracs != nil {
		out.Trading.TakeProfitFracs = make([]float64, len(cfg.Trading.TakeProfitFracs))
		copy(out.Trading.TakeProfitFracs, cfg.Trading.TakeProfitFracs)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
