package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/arbbot/internal/blob/s3"
	"github.com/alanyoungcy/arbbot/internal/cache/redis"
	"github.com/alanyoungcy/arbbot/internal/config"
	"github.com/alanyoungcy/arbbot/internal/domain"
	"github.com/alanyoungcy/arbbot/internal/notify"
	"github.com/alanyoungcy/arbbot/internal/store/memory"
	"github.com/alanyoungcy/arbbot/internal/store/postgres"
	"github.com/alanyoungcy/arbbot/internal/venue/binance"
)

// eventQueueSize bounds events waiting for the bus and chat senders.
const eventQueueSize = 256

// Dependencies bundles the concrete collaborators built from configuration.
type Dependencies struct {
	Clients []domain.ExchangeClient
	Store   domain.LedgerStore
	Reader  domain.LedgerReader

	// Optional: nil when Redis is disabled.
	Locks domain.LockManager
	Bus   domain.SignalBus

	Notifier  *notify.Notifier
	Publisher *notify.Publisher
}

// Wire builds every dependency enabled in cfg and returns them with a
// cleanup func that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Venues ---
	for _, vc := range cfg.Venues {
		switch strings.ToLower(vc.Kind) {
		case "binance":
			assets := vc.Assets
			if len(assets) == 0 {
				assets = cfg.Engine.Assets
			}
			c := binance.New(binance.Config{
				Name:      vc.Name,
				BaseURL:   vc.BaseURL,
				APIKey:    vc.APIKey,
				APISecret: vc.APISecret,
				FeeRate:   vc.FeeRate,
				Quote:     cfg.Engine.Quote,
				Assets:    assets,
				Timeout:   cfg.Engine.VenueTimeout.Duration,
			}, logger)
			if err := c.Load(ctx); err != nil {
				return fail(fmt.Errorf("wire: venue %s: %w", vc.Name, err))
			}
			deps.Clients = append(deps.Clients, c)
		default:
			return fail(fmt.Errorf("wire: venue %s: unsupported kind %q", vc.Name, vc.Kind))
		}
	}

	// --- Ledger store ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		store := postgres.NewLedgerStore(pg.Pool())
		deps.Store, deps.Reader = store, store
	} else {
		logger.WarnContext(ctx, "postgres disabled, ledger history kept in memory only")
		store := memory.NewLedgerStore()
		deps.Store, deps.Reader = store, store
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3c.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Store = s3blob.NewArchiveStore(deps.Store, s3blob.NewWriter(s3c), cfg.S3.Prefix, logger)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Publisher = notify.NewPublisher(deps.Bus, deps.Notifier, eventQueueSize, logger)

	return deps, cleanup, nil
}
