package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dukerupert/smartform/internal/config"
	"github.com/dukerupert/smartform/internal/delivery"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/textgen"
	"github.com/dukerupert/smartform/internal/tokenstore"
)

// openTokenStore builds the configured token store. The returned func
// releases any client connection it opened.
func openTokenStore(ctx context.Context, cfg config.Config, db *sql.DB) (tokenstore.Store, func(), error) {
	noop := func() {}
	switch cfg.TokenStore {
	case "memory":
		return tokenstore.NewMemory(), noop, nil
	case "sqlite":
		return tokenstore.NewSQL(db), noop, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return tokenstore.NewRedis(client, cfg.RedisPrefix), func() { client.Close() }, nil
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(ctx)
		}
		store := tokenstore.NewMongo(client.Database(cfg.MongoDatabase).Collection("tokens"))
		idxCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := store.EnsureIndexes(idxCtx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
}

func newSender(cfg config.Config, logger *slog.Logger) delivery.Sender {
	switch cfg.Delivery {
	case "resend":
		return delivery.NewResendSender(cfg.ResendAPIKey, cfg.FromEmail)
	case "postmark":
		return delivery.NewPostmarkSender(cfg.PostmarkToken, cfg.FromEmail)
	default:
		return delivery.NewLogSender(logger.With("component", "delivery"))
	}
}

func newGenerator(cfg config.Config) *textgen.Client {
	opts := []textgen.Option{textgen.WithModel(cfg.GeminiModel)}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, textgen.WithBaseURL(cfg.GeminiBaseURL))
	}
	return textgen.NewClient(cfg.GeminiAPIKey, opts...)
}

// purgeOnce removes expired entries from stores that do not expire keys on
// their own. It reports zero for stores with native TTL.
func purgeOnce(ctx context.Context, store tokenstore.Store, timeout time.Duration) (int64, error) {
	p, ok := store.(tokenstore.Purger)
	if !ok {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := p.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	metrics.TokensPurged.Add(float64(n))
	return n, nil
}

func runPurger(ctx context.Context, store tokenstore.Store, every, timeout time.Duration, logger *slog.Logger) {
	if _, ok := store.(tokenstore.Purger); !ok || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purgeOnce(ctx, store, timeout)
			if err != nil {
				logger.Error("purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired tokens", "count", n)
			}
		}
	}
}
