package models

import (
	"encoding/json"
	"time"
)

// JobLog lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobTypeContactEnrichment is the job type written by the enrichment producer.
const JobTypeContactEnrichment = "contact_enrichment"

// IsTerminal reports whether the worker must leave a job log untouched.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// JobLog is the audit row tracking one unit of enqueued work.
type JobLog struct {
	ID             string          `json:"id"`
	QueueName      string          `json:"queue_name"`
	JobType        string          `json:"job_type"`
	OrganizationID string          `json:"organization_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Message is a leased envelope read from the durable queue.
type Message struct {
	ID         int64           `json:"msg_id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ReadCount  int             `json:"read_ct"`
}
