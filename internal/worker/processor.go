package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"enrichment-pipeline/internal/models"
	"enrichment-pipeline/internal/queue"
	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/telemetry"
)

// Queue is the durable queue capability the worker consumes.
type Queue interface {
	Read(ctx context.Context, queueName string, visibilityTimeout time.Duration, maxCount int) ([]models.Message, error)
	Archive(ctx context.Context, queueName string, id int64) error
	Depth(ctx context.Context, queueName string) (int64, error)
}

// JobStore persists job log transitions and enrichment results.
type JobStore interface {
	StartJob(ctx context.Context, id string) (models.JobLog, error)
	FailJob(ctx context.Context, id string, message string) error
	CompleteEnrichment(ctx context.Context, job models.JobLog, entityID string, outcome models.EnrichmentOutcome) error
}

// Enricher produces an enrichment outcome. It must not fail.
type Enricher interface {
	Enrich(ctx context.Context, req models.EnrichmentRequest) models.EnrichmentOutcome
}

// Options tune a worker pass.
type Options struct {
	QueueName         string
	BatchSize         int
	VisibilityTimeout time.Duration
	MaxAttempts       int
}

// Summary reports one pass. Redelivered messages whose job log is already terminal
// are archived and counted in Processed only.
type Summary struct {
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Errors    int `json:"errors"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

// Processor runs single-shot batch passes over the enrichment queue.
type Processor struct {
	opts     Options
	queue    Queue
	store    JobStore
	enricher Enricher
	log      *zap.Logger
}

// NewProcessor builds a processor, filling zero options with defaults.
func NewProcessor(opts Options, q Queue, st JobStore, enricher Enricher, log *zap.Logger) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 300 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		opts:     opts,
		queue:    q,
		store:    st,
		enricher: enricher,
		log:      log.With(zap.String("queue", opts.QueueName)),
	}
}

// RunOnce leases one batch and processes it message by message. Only a queue read
// failure is returned as an error; per-message failures are recorded on the job log.
func (p *Processor) RunOnce(ctx context.Context) (Summary, error) {
	msgs, err := p.queue.Read(ctx, p.opts.QueueName, p.opts.VisibilityTimeout, p.opts.BatchSize)
	if err != nil {
		p.log.Error("queue read failed", zap.Error(err))
		return Summary{}, fmt.Errorf("read queue: %w", err)
	}

	var sum Summary
	for _, msg := range msgs {
		sum.Processed++
		switch p.processMessage(ctx, msg) {
		case outcomeSucceeded:
			sum.Success++
		case outcomeFailed:
			sum.Errors++
		}
	}

	if depth, err := p.queue.Depth(ctx, p.opts.QueueName); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	if len(msgs) > 0 {
		p.log.Info("enrichment pass finished",
			zap.Int("processed", sum.Processed),
			zap.Int("success", sum.Success),
			zap.Int("errors", sum.Errors))
	}
	return sum, nil
}

func (p *Processor) processMessage(ctx context.Context, msg models.Message) (result outcome) {
	log := p.log.With(zap.Int64("message_id", msg.ID), zap.Int("read_count", msg.ReadCount))
	var jobLogID string

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", zap.Any("panic", r))
			p.fail(ctx, log, jobLogID, fmt.Sprintf("panic: %v", r))
			p.archive(ctx, log, msg.ID)
			result = outcomeFailed
		}
	}()

	var req models.EnrichmentRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.JobLogID == "" {
		log.Warn("discarding undecodable message", zap.Error(err))
		p.archive(ctx, log, msg.ID)
		return outcomeFailed
	}
	jobLogID = req.JobLogID
	log = log.With(zap.String("job_log_id", req.JobLogID), zap.String("entity_id", req.EntityID))

	job, err := p.store.StartJob(ctx, req.JobLogID)
	if errors.Is(err, store.ErrJobNotActive) {
		log.Info("job log already terminal, archiving redelivered message")
		p.archive(ctx, log, msg.ID)
		return outcomeSkipped
	}
	if err != nil {
		p.fail(ctx, log, req.JobLogID, err.Error())
		p.archive(ctx, log, msg.ID)
		return outcomeFailed
	}
	log = log.With(zap.String("organization_id", job.OrganizationID), zap.Int("attempts", job.Attempts))

	err = p.execute(ctx, job, req)
	if err != nil {
		p.fail(ctx, log, job.ID, err.Error())
		p.archive(ctx, log, msg.ID)
		return outcomeFailed
	}

	telemetry.EnrichmentCompleted.Inc()
	log.Debug("enrichment job completed")
	p.archive(ctx, log, msg.ID)
	return outcomeSucceeded
}

func (p *Processor) execute(ctx context.Context, job models.JobLog, req models.EnrichmentRequest) error {
	if job.Attempts > p.opts.MaxAttempts {
		return fmt.Errorf("max attempts exceeded (%d)", p.opts.MaxAttempts)
	}
	if req.OrganizationID != "" && req.OrganizationID != job.OrganizationID {
		return errors.New("message organization does not match job log")
	}
	if req.EntityID == "" {
		return errors.New("entity_id is required")
	}
	req.OrganizationID = job.OrganizationID

	out := p.enricher.Enrich(ctx, req)
	if err := p.store.CompleteEnrichment(ctx, job, req.EntityID, out); err != nil {
		return fmt.Errorf("persist enrichment: %w", err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, jobLogID, message string) {
	telemetry.EnrichmentFailed.Inc()
	log.Warn("enrichment job failed", zap.String("reason", message))
	if jobLogID == "" {
		return
	}
	if err := p.store.FailJob(ctx, jobLogID, message); err != nil && !errors.Is(err, store.ErrJobNotActive) {
		log.Error("mark job log failed", zap.Error(err))
	}
}

func (p *Processor) archive(ctx context.Context, log *zap.Logger, id int64) {
	if err := p.queue.Archive(ctx, p.opts.QueueName, id); err != nil {
		if errors.Is(err, queue.ErrMessageNotFound) {
			log.Warn("message already archived")
			return
		}
		log.Error("archive message", zap.Error(err))
	}
}
