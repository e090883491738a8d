package models

import "strings"

// EnrichmentRequest is the queue payload for a contact enrichment job.
type EnrichmentRequest struct {
	JobLogID       string `json:"job_log_id"`
	EntityID       string `json:"entity_id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Media          string `json:"media,omitempty"`
	Email          string `json:"email,omitempty"`
	LinkedIn       string `json:"linkedin,omitempty"`
}

// EnrichmentResult holds the contact fields discovered for an entity.
// Nil fields are unknown and never overwrite stored values.
type EnrichmentResult struct {
	LinkedIn *string `json:"linkedin,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Job      *string `json:"job,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// Normalize trims every field and turns blanks into nil.
func (r EnrichmentResult) Normalize() EnrichmentResult {
	return EnrichmentResult{
		LinkedIn: nonBlank(r.LinkedIn),
		Email:    nonBlank(r.Email),
		Phone:    nonBlank(r.Phone),
		Job:      nonBlank(r.Job),
		Notes:    nonBlank(r.Notes),
	}
}

// Enrichment sources recorded on the job log result.
const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// EnrichmentOutcome is what the worker persists as the job log result.
type EnrichmentOutcome struct {
	Result        EnrichmentResult `json:"result"`
	Source        string           `json:"source"`
	ProviderError string           `json:"provider_error,omitempty"`
}

// ContactFields are the enrichment-specific columns of a contact record.
type ContactFields struct {
	LinkedIn *string `json:"linkedin"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Job      *string `json:"job"`
	Notes    *string `json:"notes"`
}

// Merge applies r on top of c. A value present in r wins; nil or blank values in r keep c.
func (c ContactFields) Merge(r EnrichmentResult) ContactFields {
	r = r.Normalize()
	return ContactFields{
		LinkedIn: pick(r.LinkedIn, c.LinkedIn),
		Email:    pick(r.Email, c.Email),
		Phone:    pick(r.Phone, c.Phone),
		Job:      pick(r.Job, c.Job),
		Notes:    pick(r.Notes, c.Notes),
	}
}

func pick(next, current *string) *string {
	if next != nil {
		return next
	}
	return current
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// StringPtr returns nil for blank input, else a pointer to the trimmed value.
func StringPtr(v string) *string {
	return nonBlank(&v)
}
