package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/windowbot/internal/blob/s3"
	"github.com/alanyoungcy/windowbot/internal/cache/redis"
	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/crypto"
	"github.com/alanyoungcy/windowbot/internal/domain"
	"github.com/alanyoungcy/windowbot/internal/engine"
	"github.com/alanyoungcy/windowbot/internal/feed"
	"github.com/alanyoungcy/windowbot/internal/ladder"
	"github.com/alanyoungcy/windowbot/internal/notify"
	"github.com/alanyoungcy/windowbot/internal/orchestrator"
	"github.com/alanyoungcy/windowbot/internal/platform/kalshi"
	"github.com/alanyoungcy/windowbot/internal/risk"
	"github.com/alanyoungcy/windowbot/internal/signal"
	"github.com/alanyoungcy/windowbot/internal/store/file"
	"github.com/alanyoungcy/windowbot/internal/store/postgres"
)

// Dependencies bundles everything the application run loop needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Gateway      *kalshi.Client
	Feed         *feed.PriceWSFeed
	Store        *file.Store
	Cache        domain.MarketCache
	Lock         domain.RunLock
	Mirror       domain.TradeMirrorStore // nil unless Postgres is enabled
	BlobReader   domain.BlobReader       // nil unless S3 is enabled
	Archiver     domain.Archiver         // nil unless S3 is enabled
	Notifier     *notify.Notifier
	Orchestrator *orchestrator.Orchestrator
}

// fanoutAudit writes each record to every sink. The file audit log is always
// present; the Postgres sink joins it when enabled.
type fanoutAudit struct {
	sinks []domain.AuditStore
}

func (f *fanoutAudit) Log(ctx context.Context, rec domain.AuditRecord) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Log(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange gateway with signing key ---
	keyPEM, err := crypto.LoadKey(crypto.KeyConfig{
		PlainKeyPath:     cfg.Exchange.RsaPrivateKeyPath,
		EncryptedKeyPath: cfg.Exchange.EncryptedKeyPath,
		KeyPassword:      cfg.Exchange.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	gateway := kalshi.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.ApiKeyID)
	if err := gateway.SetRSAPrivateKey(keyPEM); err != nil {
		return nil, nil, fmt.Errorf("wire: signing key: %w", err)
	}
	deps.Gateway = gateway

	// --- Durable file store (positions, window meta, ledger, audit) ---
	store, err := file.New(cfg.Store.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: file store: %w", err)
	}
	deps.Store = store

	// --- Redis (snapshot cache + run lock) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Cache = redis.NewMarketCache(redisClient)
	deps.Lock = redis.NewRunLock(redisClient)

	// --- Postgres mirror (optional) ---
	auditSinks := []domain.AuditStore{store}
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
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

		pool := pgClient.Pool()
		deps.Mirror = postgres.NewTradeStore(pool)
		auditSinks = append(auditSinks, postgres.NewAuditStore(pool))
	}
	audit := &fanoutAudit{sinks: auditSinks}

	// --- S3 ledger archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(s3Client), store, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market data feed (one connection, all configured symbols) ---
	symbols := make([]string, 0, len(cfg.Bots))
	seen := map[string]bool{}
	for _, b := range cfg.Bots {
		if !seen[b.Symbol] {
			seen[b.Symbol] = true
			symbols = append(symbols, b.Symbol)
		}
	}
	priceFeed := feed.NewPriceWSFeed(cfg.Feed.WsURL, cfg.Feed.CandlesURL, symbols, logger)
	deps.Feed = priceFeed

	// --- Shared gate and ladder executor ---
	gate := risk.NewGate(gateway, store, risk.Config{
		BalanceRefresh: cfg.Risk.BalanceRefresh.Duration,
		CapitalFloor:   cfg.Risk.CapitalFloor,
		SizeFloorUSD:   cfg.Risk.SizeFloorUSD,
		SizeCeilingUSD: cfg.Risk.SizeCeilingUSD,
	}, logger)
	exec := ladder.New(gateway, ladder.Config{
		MaxSteps:          cfg.Ladder.MaxSteps,
		StepInterval:      cfg.Ladder.StepInterval.Duration,
		DiscountCents:     cfg.Ladder.DiscountCents,
		DirectSpreadTicks: cfg.Ladder.DirectSpreadTick,
		MinMinutes:        cfg.Ladder.MinMinutes,
		DeepBookCount:     cfg.Ladder.DeepBookCount,
	}, logger)

	// --- Advisory provider, shared by every advisory bot ---
	var advisory *signal.AdvisoryProvider
	if cfg.Advisory.URL != "" {
		advisory = signal.NewAdvisoryProvider(cfg.Advisory.URL, cfg.Advisory.APIKey, cfg.Advisory.Timeout.Duration, logger)
	}

	// --- Bot instances ---
	instances := make(map[string]orchestrator.Instance, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		var (
			provider domain.SignalProvider
			advisor  domain.ExitAdvisor
		)
		switch bc.Signal {
		case "advisory":
			provider = advisory
			advisor = advisory
		default:
			provider = signal.NewMomentumProvider(priceFeed, bc.Symbol, bc.ConfidenceThreshold, logger)
		}

		instances[bc.ID] = engine.NewBot(bc, engine.Deps{
			Gateway:  gateway,
			Feed:     priceFeed,
			Store:    store,
			Ledger:   store,
			Audit:    audit,
			Mirror:   deps.Mirror,
			Cache:    deps.Cache,
			Gate:     gate,
			Ladder:   exec,
			Provider: provider,
			Advisor:  advisor,
			Notifier: deps.Notifier,
			Logger:   logger,
		})
	}
	deps.Orchestrator = orchestrator.New(cfg, instances, deps.Lock, logger)

	return deps, cleanup, nil
}
