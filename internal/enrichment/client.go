package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"enrichment-pipeline/internal/models"
	"enrichment-pipeline/internal/telemetry"
)

// ErrProviderDisabled is recorded when no provider endpoint is configured.
var ErrProviderDisabled = errors.New("enrichment provider not configured")

// Client calls the external lookup service and falls back to a pass-through result
// built from the request itself. Enrich never fails.
type Client struct {
	http    *resty.Client
	enabled bool
	log     *zap.Logger
}

// NewClient builds a provider client. An empty baseURL disables the provider and every
// call is answered by the fallback.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}
	return &Client{
		http:    httpClient,
		enabled: baseURL != "",
		log:     log,
	}
}

type lookupRequest struct {
	Name     string `json:"name"`
	Media    string `json:"media,omitempty"`
	Email    string `json:"email,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

// Enrich looks up contact details for req.
func (c *Client) Enrich(ctx context.Context, req models.EnrichmentRequest) models.EnrichmentOutcome {
	result, err := c.lookup(ctx, req)
	if err == nil {
		return models.EnrichmentOutcome{Result: result.Normalize(), Source: models.SourceProvider}
	}

	telemetry.EnrichmentFallbacks.Inc()
	c.log.Warn("enrichment provider unavailable, using fallback",
		zap.String("job_log_id", req.JobLogID),
		zap.String("entity_id", req.EntityID),
		zap.Error(err))
	return models.EnrichmentOutcome{
		Result:        Fallback(req),
		Source:        models.SourceFallback,
		ProviderError: err.Error(),
	}
}

func (c *Client) lookup(ctx context.Context, req models.EnrichmentRequest) (models.EnrichmentResult, error) {
	if !c.enabled {
		return models.EnrichmentResult{}, ErrProviderDisabled
	}
	var out models.EnrichmentResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(lookupRequest{Name: req.Name, Media: req.Media, Email: req.Email, LinkedIn: req.LinkedIn}).
		SetResult(&out).
		Post("/v1/enrich")
	if err != nil {
		return models.EnrichmentResult{}, fmt.Errorf("call provider: %w", err)
	}
	if resp.IsError() {
		return models.EnrichmentResult{}, fmt.Errorf("provider status %d", resp.StatusCode())
	}
	if ct := resp.Header().Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "json") {
		return models.EnrichmentResult{}, fmt.Errorf("provider returned %q", ct)
	}
	return out, nil
}

// Fallback builds a deterministic result from fields already on the request.
func Fallback(req models.EnrichmentRequest) models.EnrichmentResult {
	return models.EnrichmentResult{
		LinkedIn: models.StringPtr(req.LinkedIn),
		Email:    models.StringPtr(req.Email),
	}
}
