package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/futbot/internal/blob/s3"
	"github.com/alanyoungcy/futbot/internal/cache/redis"
	"github.com/alanyoungcy/futbot/internal/config"
	"github.com/alanyoungcy/futbot/internal/domain"
	"github.com/alanyoungcy/futbot/internal/ledger"
	"github.com/alanyoungcy/futbot/internal/metrics"
	"github.com/alanyoungcy/futbot/internal/notify"
	"github.com/alanyoungcy/futbot/internal/platform/binance"
	"github.com/alanyoungcy/futbot/internal/risk"
	"github.com/alanyoungcy/futbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Exchange domain.Exchange
	Book     *ledger.Ledger

	// Redis-backed shared state.
	Marks  domain.PriceCache
	Equity risk.EquityStore

	// TradeStore is nil when PostgreSQL is not configured.
	TradeStore domain.TradeStore

	// Archiver is nil when S3 archival is disabled.
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Stats    *metrics.Metrics
}

// needsPostgres reports whether the mode persists or serves trade history.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Book:  ledger.New(logger),
		Stats: metrics.New(),
	}

	// --- Redis: mark-price cache, daily equity marker, request limiter ---
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Marks = redis.NewMarkPriceCache(redisClient)
	deps.Equity = redis.NewDailyEquityCache(redisClient)

	rpm := cfg.Binance.RequestsPerMinute
	var limiter binance.Limiter
	if rpm > 0 {
		limiter = redis.NewRateLimiter(redisClient, rpm, time.Minute)
	}

	// --- Binance USD-M futures client ---
	deps.Exchange = binance.NewClient(cfg.Binance, limiter, logger)

	// --- PostgreSQL trade history (only for modes that read or write it) ---
	if needsPostgres(cfg.Mode) && (cfg.Postgres.DSN != "" || cfg.Postgres.Host != "") {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewTradeStore(pgClient)
		deps.TradeStore = store

		// --- S3 archival of aged closed trades ---
		if cfg.S3.Enabled {
			s3Client, err := s3blob.New(ctx, cfg.S3)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			deps.Archiver = s3blob.NewArchiver(
				store,
				s3Client,
				cfg.S3.ArchiveInterval.Duration,
				cfg.S3.RetentionDays,
				logger,
			)
		}
	}

	if cfg.S3.Enabled && deps.Archiver == nil {
		logger.Warn("s3 archival enabled but postgres is not configured; skipping archiver")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.ParseSeverity(cfg.Notify.MinSeverity), logger)

	return deps, cleanup, nil
}
