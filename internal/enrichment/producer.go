package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"enrichment-pipeline/internal/models"
	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/telemetry"
)

// ErrNameRequired is returned when neither the descriptor nor the contact record has a name.
var ErrNameRequired = errors.New("name is required")

// ErrOrganizationMismatch is reported for batch items owned by another organization.
var ErrOrganizationMismatch = errors.New("organization does not match batch")

// JobStore is the slice of the store the producer writes to.
type JobStore interface {
	CreateJobLog(ctx context.Context, p store.CreateJobLogParams) (models.JobLog, error)
	FailJob(ctx context.Context, id string, message string) error
	ContactName(ctx context.Context, entityID, organizationID string) (string, error)
}

// Enqueuer writes messages to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any) (int64, error)
}

// JobDescriptor is one enrichment request as accepted by the enqueue entrypoint.
type JobDescriptor struct {
	EntityID       string `json:"entityId" validate:"required"`
	Name           string `json:"name"`
	Media          string `json:"media,omitempty"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	LinkedIn       string `json:"linkedin,omitempty"`
	OrganizationID string `json:"organizationId" validate:"required"`
}

// ItemError reports why one batch item was not queued.
type ItemError struct {
	Index    int    `json:"index"`
	EntityID string `json:"entityId,omitempty"`
	Message  string `json:"message"`
}

// BatchResult summarises a batch enqueue.
type BatchResult struct {
	JobLogIDs []string    `json:"jobLogIds"`
	Queued    int         `json:"queued"`
	Total     int         `json:"total"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Producer creates job logs and writes the matching queue messages.
type Producer struct {
	store     JobStore
	queue     Enqueuer
	queueName string
	validate  *validator.Validate
	log       *zap.Logger
}

// NewProducer builds a producer writing to queueName.
func NewProducer(st JobStore, q Enqueuer, queueName string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{
		store:     st,
		queue:     q,
		queueName: queueName,
		validate:  validator.New(),
		log:       log,
	}
}

// Enqueue queues one job and returns its job log id.
func (p *Producer) Enqueue(ctx context.Context, d JobDescriptor) (string, error) {
	d.EntityID = strings.TrimSpace(d.EntityID)
	d.OrganizationID = strings.TrimSpace(d.OrganizationID)
	d.Name = strings.TrimSpace(d.Name)
	if err := p.validate.Struct(d); err != nil {
		return "", fmt.Errorf("invalid job: %w", err)
	}

	if d.Name == "" {
		name, err := p.store.ContactName(ctx, d.EntityID, d.OrganizationID)
		if err != nil && !errors.Is(err, store.ErrContactNotFound) {
			return "", err
		}
		d.Name = strings.TrimSpace(name)
		if d.Name == "" {
			return "", ErrNameRequired
		}
	}

	req := models.EnrichmentRequest{
		EntityID:       d.EntityID,
		OrganizationID: d.OrganizationID,
		Name:           d.Name,
		Media:          d.Media,
		Email:          d.Email,
		LinkedIn:       d.LinkedIn,
	}
	job, err := p.store.CreateJobLog(ctx, store.CreateJobLogParams{
		QueueName:      p.queueName,
		JobType:        models.JobTypeContactEnrichment,
		OrganizationID: d.OrganizationID,
		Payload:        req,
	})
	if err != nil {
		return "", err
	}
	req.JobLogID = job.ID

	msgID, err := p.queue.Enqueue(ctx, p.queueName, req)
	if err != nil {
		if ferr := p.store.FailJob(ctx, job.ID, "enqueue failed: "+err.Error()); ferr != nil {
			p.log.Warn("mark job failed after enqueue error", zap.String("job_log_id", job.ID), zap.Error(ferr))
		}
		return "", fmt.Errorf("enqueue: %w", err)
	}

	telemetry.EnqueueCounter.Inc()
	p.log.Info("enrichment job enqueued",
		zap.String("job_log_id", job.ID),
		zap.Int64("message_id", msgID),
		zap.String("organization_id", d.OrganizationID),
		zap.String("entity_id", d.EntityID))
	return job.ID, nil
}

// EnqueueBatch queues every item independently under organizationID. Items naming a
// different organization are rejected.
func (p *Producer) EnqueueBatch(ctx context.Context, organizationID string, jobs []JobDescriptor) BatchResult {
	res := BatchResult{JobLogIDs: []string{}, Total: len(jobs)}
	organizationID = strings.TrimSpace(organizationID)
	for i, d := range jobs {
		itemOrg := strings.TrimSpace(d.OrganizationID)
		if organizationID != "" {
			if itemOrg != "" && itemOrg != organizationID {
				res.Errors = append(res.Errors, ItemError{Index: i, EntityID: d.EntityID, Message: ErrOrganizationMismatch.Error()})
				continue
			}
			d.OrganizationID = organizationID
		}
		id, err := p.Enqueue(ctx, d)
		if err != nil {
			res.Errors = append(res.Errors, ItemError{Index: i, EntityID: d.EntityID, Message: err.Error()})
			continue
		}
		res.JobLogIDs = append(res.JobLogIDs, id)
		res.Queued++
	}
	return res
}
