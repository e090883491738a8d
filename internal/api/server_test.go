package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrichment-pipeline/internal/config"
	"enrichment-pipeline/internal/enrichment"
	"enrichment-pipeline/internal/media"
	"enrichment-pipeline/internal/models"
	"enrichment-pipeline/internal/store"
	"enrichment-pipeline/internal/worker"
)

type fakeProducer struct {
	single []enrichment.JobDescriptor
	batch  []enrichment.JobDescriptor
	org    string
	err    error
}

func (f *fakeProducer) Enqueue(_ context.Context, d enrichment.JobDescriptor) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.single = append(f.single, d)
	return fmt.Sprintf("job-%d", len(f.single)), nil
}

func (f *fakeProducer) EnqueueBatch(_ context.Context, org string, jobs []enrichment.JobDescriptor) enrichment.BatchResult {
	f.org = org
	f.batch = jobs
	res := enrichment.BatchResult{Total: len(jobs)}
	for i, j := range jobs {
		if j.Name == "" {
			res.Errors = append(res.Errors, enrichment.ItemError{Index: i, EntityID: j.EntityID, Message: "name is required"})
			continue
		}
		res.Queued++
		res.JobLogIDs = append(res.JobLogIDs, fmt.Sprintf("job-%d", i))
	}
	return res
}

type fakeJobs struct{ job models.JobLog }

func (f fakeJobs) GetJobLog(_ context.Context, id, org string) (models.JobLog, error) {
	if id != f.job.ID || org != f.job.OrganizationID {
		return models.JobLog{}, store.ErrJobNotFound
	}
	return f.job, nil
}

type fakeWorker struct {
	sum worker.Summary
	err error
}

func (f fakeWorker) RunOnce(context.Context) (worker.Summary, error) { return f.sum, f.err }

type fakeMedia struct{ res media.Result }

func (f fakeMedia) RunOnce(context.Context) media.Result { return f.res }

type fakeURLs struct {
	urls    map[string]string
	cleared bool
	bucket  string
}

func (f *fakeURLs) Get(_ context.Context, path, bucket string) (string, bool) {
	f.bucket = bucket
	u, ok := f.urls[path]
	return u, ok
}

func (f *fakeURLs) Clear() { f.cleared = true }

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, float64, error) { return false, 0, nil }

func newTestServer(deps Deps) http.Handler {
	return New(config.Config{S3Bucket: "media"}, deps, nil).Router()
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueSingleUsesTenantHeader(t *testing.T) {
	p := &fakeProducer{}
	h := newTestServer(Deps{Producer: p})

	rec := do(t, h, http.MethodPost, "/enrichment/jobs", `{"entityId":"c1","name":"Ada"}`, map[string]string{"X-Tenant-ID": "org-1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "job-1", resp["jobLogId"])
	require.Len(t, p.single, 1)
	assert.Equal(t, "org-1", p.single[0].OrganizationID)
}

func TestEnqueueBatchReportsPerItemErrors(t *testing.T) {
	p := &fakeProducer{}
	h := newTestServer(Deps{Producer: p})

	body := `{"organizationId":"org-1","jobs":[
		{"entityId":"a","name":"A"},{"entityId":"b","name":"B"},{"entityId":"c"},
		{"entityId":"d","name":"D"},{"entityId":"e","name":"E"}]}`
	rec := do(t, h, http.MethodPost, "/enrichment/jobs", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Success   bool                   `json:"success"`
		JobLogIDs []string               `json:"jobLogIds"`
		Queued    int                    `json:"queued"`
		Total     int                    `json:"total"`
		Errors    []enrichment.ItemError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 4, resp.Queued)
	assert.Equal(t, 5, resp.Total)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 2, resp.Errors[0].Index)
	assert.Equal(t, "org-1", p.org)
}

func TestEnqueueRejectsMissingOrganizationAndBadJSON(t *testing.T) {
	h := newTestServer(Deps{Producer: &fakeProducer{}})

	rec := do(t, h, http.MethodPost, "/enrichment/jobs", `{"entityId":"c1","name":"Ada"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/enrichment/jobs", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueNameRequiredIsClientError(t *testing.T) {
	h := newTestServer(Deps{Producer: &fakeProducer{err: fmt.Errorf("entity c1: %w", enrichment.ErrNameRequired)}})

	rec := do(t, h, http.MethodPost, "/enrichment/jobs", `{"entityId":"c1","organizationId":"org-1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name is required")
}

func TestEnqueueRateLimited(t *testing.T) {
	p := &fakeProducer{}
	h := newTestServer(Deps{Producer: p, Limiter: denyAll{}})

	rec := do(t, h, http.MethodPost, "/enrichment/jobs", `{"entityId":"c1","name":"Ada","organizationId":"org-1"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, p.single)
}

func TestGetJobIsTenantScoped(t *testing.T) {
	job := models.JobLog{ID: "job-1", OrganizationID: "org-1", Status: models.StatusCompleted}
	h := newTestServer(Deps{Jobs: fakeJobs{job: job}})

	rec := do(t, h, http.MethodGet, "/enrichment/jobs/job-1", "", map[string]string{"X-Tenant-ID": "org-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), models.StatusCompleted)

	rec = do(t, h, http.MethodGet, "/enrichment/jobs/job-1", "", map[string]string{"X-Tenant-ID": "org-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessReturnsSummaryOrFails(t *testing.T) {
	h := newTestServer(Deps{Worker: fakeWorker{sum: worker.Summary{Processed: 3, Success: 2, Errors: 1}}})
	rec := do(t, h, http.MethodPost, "/enrichment/process", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":3,"success":2,"errors":1}`, rec.Body.String())

	h = newTestServer(Deps{Worker: fakeWorker{err: errors.New("redis down")}})
	rec = do(t, h, http.MethodPost, "/enrichment/process", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIngestReturnsResult(t *testing.T) {
	h := newTestServer(Deps{Media: fakeMedia{res: media.Result{Success: true, Processed: 2, SuccessCount: 1, FailCount: 1, DurationMs: 12}}})
	rec := do(t, h, http.MethodPost, "/media/ingest", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"processed":2,"successCount":1,"failCount":1,"durationMs":12}`, rec.Body.String())
}

func TestSignedURL(t *testing.T) {
	urls := &fakeURLs{urls: map[string]string{"org-1/tiktok/r1.jpg": "https://signed/1"}}
	h := newTestServer(Deps{URLs: urls})

	rec := do(t, h, http.MethodGet, "/media/signed-url?path=org-1/tiktok/r1.jpg", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://signed/1"}`, rec.Body.String())
	assert.Equal(t, "media", urls.bucket)

	rec = do(t, h, http.MethodGet, "/media/signed-url?path=missing.jpg&bucket=other", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"url":null}`, rec.Body.String())
	assert.Equal(t, "other", urls.bucket)

	rec = do(t, h, http.MethodGet, "/media/signed-url", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/media/signed-url/clear", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, urls.cleared)
}
