package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"enrichment-pipeline/internal/config"
	"enrichment-pipeline/internal/enrichment"
	"enrichment-pipeline/internal/media"
	"enrichment-pipeline/internal/queue"
	"enrichment-pipeline/internal/storage"
	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/urlcache"
	"enrichment-pipeline/internal/worker"
)

// App holds the wired components shared by the api and worker binaries.
type App struct {
	Config    config.Config
	Store     *store.Store
	Redis     *redis.Client
	Queue     *queue.RedisQueue
	Storage   *storage.S3
	URLs      *urlcache.Cache
	Producer  *enrichment.Producer
	Processor *worker.Processor
	Pipeline  *media.Pipeline
}

// Build connects to Postgres, Redis and S3, runs migrations and wires the
// enrichment and media components.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	st, err := store.New(ctx, cfg.PostgresDSN, cfg.ContactsTable)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		st.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	s3, err := storage.NewS3(ctx, cfg)
	if err != nil {
		st.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("init s3: %w", err)
	}

	q := queue.NewRedisQueue(rdb)
	client := enrichment.NewClient(cfg.EnrichmentAPIURL, cfg.EnrichmentAPIKey, cfg.EnrichmentTimeout, log.Named("enrichment"))

	var claimer media.Claimer
	if cfg.MediaClaimTTL > 0 {
		claimer = media.NewRedisClaimer(rdb)
	}

	return &App{
		Config:   cfg,
		Store:    st,
		Redis:    rdb,
		Queue:    q,
		Storage:  s3,
		URLs:     urlcache.New(s3, cfg.SignedURLTTL, cfg.SignedURLBuffer, nil, log.Named("urlcache")),
		Producer: enrichment.NewProducer(st, q, cfg.EnrichmentQueue, log.Named("producer")),
		Processor: worker.NewProcessor(worker.Options{
			QueueName:         cfg.EnrichmentQueue,
			BatchSize:         cfg.EnrichmentBatchSize,
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxAttempts:       cfg.MaxAttempts,
		}, q, st, client, log.Named("worker")),
		Pipeline: media.NewPipeline(media.Options{
			BatchSize:   cfg.MediaBatchSize,
			Concurrency: cfg.MediaConcurrency,
			ClaimTTL:    cfg.MediaClaimTTL,
		}, st, media.NewFetcher(cfg.MediaFetchTimeout, cfg.MediaUserAgent, cfg.MediaMinBytes, cfg.MediaMaxBytes), s3, claimer, log.Named("media")),
	}, nil
}

// Close releases the database pool and the Redis client.
func (a *App) Close() {
	a.Store.Close()
	_ = a.Redis.Close()
}
