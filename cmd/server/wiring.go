package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"p2pescrow/internal/chain"
	"p2pescrow/internal/config"
	"p2pescrow/internal/escrow"
	"p2pescrow/internal/idempotency"
	"p2pescrow/internal/journal"
	"p2pescrow/internal/logger"
	"p2pescrow/internal/notify"
)

// resources collects everything opened from config so it can be closed in
// one place.
type resources struct {
	closers []func()
}

func (r *resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func openJournal(ctx context.Context, cfg *config.AppConfig, res *resources) (escrow.Journal, error) {
	switch cfg.Storage.JournalDriver {
	case "leveldb":
		j, err := journal.OpenLevelDB(cfg.Storage.JournalPath)
		if err != nil {
			return nil, err
		}
		res.onClose(func() { _ = j.Close() })
		return j, nil
	case "postgres":
		j, err := journal.NewPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres journal: %w", err)
		}
		res.onClose(j.Close)
		return j, nil
	default:
		return escrow.NewMemoryJournal(), nil
	}
}

func openIdempotency(ctx context.Context, cfg *config.AppConfig, res *resources) (idempotency.Store, error) {
	switch cfg.Storage.IdempotencyDriver {
	case "file":
		return idempotency.NewFileStore(cfg.Storage.IdempotencyPath)
	case "postgres":
		store, err := idempotency.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres idempotency store: %w", err)
		}
		res.onClose(store.Close)
		return store, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// openReader returns nil when no RPC endpoint is configured.
func openReader(ctx context.Context, cfg *config.AppConfig, res *resources) (*chain.EthClient, error) {
	if cfg.Chain.RPCURL == "" {
		return nil, nil
	}
	client, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:   cfg.Chain.RPCURL,
		Contract: cfg.Chain.Contract,
		Variant:  cfg.Service.Variant,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow contract client: %w", err)
	}
	res.onClose(client.Close)
	return client, nil
}

// openSink returns nil when neither Redis nor event logging is configured.
func openSink(ctx context.Context, cfg *config.AppConfig, res *resources) (notify.Sink, error) {
	if cfg.Notify.RedisAddr != "" {
		rds := redis.NewClient(&redis.Options{
			Addr:     cfg.Notify.RedisAddr,
			Password: cfg.Notify.RedisPassword,
			DB:       cfg.Notify.RedisDB,
		})
		res.onClose(func() { _ = rds.Close() })
		pong, err := rds.Ping(ctx).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Log.WithField("addr", cfg.Notify.RedisAddr).Info("redis response ", pong)
		return notify.NewRedisSink(rds, cfg.Notify.Channel), nil
	}
	if cfg.Notify.LogEvents {
		return notify.LogSink{Log: logger.Log.WithField("component", "events")}, nil
	}
	return nil, nil
}

// openEngine builds the engine over the configured journal and replays it.
func openEngine(ctx context.Context, cfg *config.AppConfig, res *resources) (*escrow.Engine, escrow.Journal, error) {
	j, err := openJournal(ctx, cfg, res)
	if err != nil {
		return nil, nil, err
	}
	engine := escrow.NewEngine(
		escrow.WithVariant(cfg.Service.Variant),
		escrow.WithJournal(j),
		escrow.WithLogger(logger.Log),
		escrow.WithPayoutHook(func(p escrow.Payout) {
			logger.Log.WithFields(logrus.Fields{
				"escrow_id": p.EscrowID,
				"recipient": p.Recipient.Hex(),
				"amount":    p.Amount.String(),
			}).Info("payout committed")
		}),
	)
	if err := engine.Restore(ctx); err != nil {
		return nil, nil, err
	}
	return engine, j, nil
}
