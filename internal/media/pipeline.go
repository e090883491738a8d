package media

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/telemetry"
)

// RecordStore reads pending source records and rewrites their storage pointer.
type RecordStore interface {
	PendingMedia(ctx context.Context, table, pointerColumn string, limit int) ([]store.MediaRecord, error)
	SetMediaPointer(ctx context.Context, table, pointerColumn, originalURLColumn, recordID, key, originalURL string) (bool, error)
}

// Downloader fetches a candidate URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Uploader persists bytes in the durable store, overwriting existing keys.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Options tune a pipeline pass.
type Options struct {
	Sources       []Source
	BatchSize     int
	Concurrency   int
	PointerColumn string
	ClaimTTL      time.Duration
}

// Result reports one pipeline pass.
type Result struct {
	Success      bool  `json:"success"`
	Processed    int   `json:"processed"`
	SuccessCount int   `json:"successCount"`
	FailCount    int   `json:"failCount"`
	DurationMs   int64 `json:"durationMs"`
}

// Pipeline ingests remote media referenced by source records into durable storage.
type Pipeline struct {
	opts     Options
	store    RecordStore
	fetcher  Downloader
	uploader Uploader
	claimer  Claimer
	chains   map[string][]FieldAccessor
	log      *zap.Logger
}

// NewPipeline builds a pipeline. claimer may be nil, which disables record leases.
func NewPipeline(opts Options, st RecordStore, fetcher Downloader, uploader Uploader, claimer Claimer, log *zap.Logger) *Pipeline {
	if len(opts.Sources) == 0 {
		opts.Sources = DefaultSources
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PointerColumn == "" {
		opts.PointerColumn = "storage_path"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		opts:     opts,
		store:    st,
		fetcher:  fetcher,
		uploader: uploader,
		claimer:  claimer,
		chains:   FallbackChains,
		log:      log,
	}
}

type counters struct {
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// RunOnce scans every source once. A table that cannot be scanned marks the pass
// unsuccessful but does not stop the other tables.
func (p *Pipeline) RunOnce(ctx context.Context) Result {
	start := time.Now()
	res := Result{Success: true}
	var c counters

	for _, src := range p.opts.Sources {
		log := p.log.With(zap.String("table", src.Table), zap.String("source_type", src.SourceType))
		records, err := p.store.PendingMedia(ctx, src.Table, p.opts.PointerColumn, p.opts.BatchSize)
		if err != nil {
			log.Error("scan source table", zap.Error(err))
			res.Success = false
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for _, rec := range records {
			rec := rec
			g.Go(func() error {
				p.ingest(gctx, log, src, rec, &c)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Processed = int(c.processed.Load())
	res.SuccessCount = int(c.succeeded.Load())
	res.FailCount = int(c.failed.Load())
	res.DurationMs = time.Since(start).Milliseconds()
	p.log.Info("media ingestion pass finished",
		zap.Int("processed", res.Processed),
		zap.Int("success", res.SuccessCount),
		zap.Int("failed", res.FailCount),
		zap.Int64("duration_ms", res.DurationMs))
	return res
}

func (p *Pipeline) ingest(ctx context.Context, log *zap.Logger, src Source, rec store.MediaRecord, c *counters) {
	log = log.With(zap.String("record_id", rec.ID), zap.String("organization_id", rec.OrganizationID))

	if p.claimer == nil || p.opts.ClaimTTL <= 0 {
		p.ingestRecord(ctx, log, src, rec, c)
		return
	}

	claimKey := src.Table + ":" + rec.ID
	ok, err := p.claimer.Claim(ctx, claimKey, p.opts.ClaimTTL)
	if err != nil {
		c.processed.Add(1)
		c.failed.Add(1)
		telemetry.MediaFailed.WithLabelValues(src.SourceType, reasonClaim).Inc()
		log.Warn("media ingestion skipped", zap.String("reason", reasonClaim), zap.Error(err))
		return
	}
	if !ok {
		log.Debug("record claimed by another run")
		return
	}
	// On success the null-pointer predicate already excludes the record, so the
	// lease is left to expire. Failed records are released for the next run.
	if !p.ingestRecord(ctx, log, src, rec, c) {
		if err := p.claimer.Release(context.WithoutCancel(ctx), claimKey); err != nil {
			log.Warn("release record claim", zap.Error(err))
		}
	}
}

func (p *Pipeline) ingestRecord(ctx context.Context, log *zap.Logger, src Source, rec store.MediaRecord, c *counters) bool {
	c.processed.Add(1)
	fail := func(reason string, err error) bool {
		c.failed.Add(1)
		telemetry.MediaFailed.WithLabelValues(src.SourceType, reason).Inc()
		log.Warn("media ingestion skipped", zap.String("reason", reason), zap.Error(err))
		return false
	}

	candidate := ResolveCandidate(src, rec.Fields, p.chains)
	if candidate == "" {
		return fail(reasonNoCandidate, nil)
	}

	body, contentType, err := p.fetcher.Fetch(ctx, candidate)
	if err != nil {
		return fail(failureReason(err), err)
	}

	key := ObjectKey(rec.OrganizationID, src.SourceType, rec.ID, Extension(contentType))
	if err := p.uploader.Upload(ctx, key, body, UploadContentType(contentType)); err != nil {
		return fail(reasonUpload, err)
	}

	updated, err := p.store.SetMediaPointer(ctx, src.Table, p.opts.PointerColumn, src.OriginalURLField, rec.ID, key, candidate)
	if err != nil {
		return fail(reasonUpdate, err)
	}
	if !updated {
		log.Info("storage pointer already set by a concurrent run", zap.String("key", key))
	}

	c.succeeded.Add(1)
	telemetry.MediaIngested.WithLabelValues(src.SourceType).Inc()
	log.Debug("media ingested", zap.String("key", key), zap.String("original_url", candidate))
	return true
}
