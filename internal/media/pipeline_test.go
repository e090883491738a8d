package media

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrichment-pipeline/internal/store"
)

type memRecordStore struct {
	mu      sync.Mutex
	tables  map[string][]store.MediaRecord
	scanErr map[string]error
	writes  int
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{tables: map[string][]store.MediaRecord{}, scanErr: map[string]error{}}
}

func (m *memRecordStore) add(table, id, org string, fields map[string]any) {
	m.tables[table] = append(m.tables[table], store.MediaRecord{ID: id, OrganizationID: org, Fields: fields})
}

func (m *memRecordStore) field(table, id, name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.tables[table] {
		if r.ID == id {
			return r.Fields[name]
		}
	}
	return nil
}

func (m *memRecordStore) PendingMedia(_ context.Context, table, pointer string, limit int) ([]store.MediaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanErr[table]; err != nil {
		return nil, err
	}
	var out []store.MediaRecord
	for _, r := range m.tables[table] {
		if r.Fields[pointer] != nil {
			continue
		}
		copied := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			copied[k] = v
		}
		out = append(out, store.MediaRecord{ID: r.ID, OrganizationID: r.OrganizationID, Fields: copied})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memRecordStore) SetMediaPointer(_ context.Context, table, pointer, original, id, key, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.tables[table] {
		if r.ID == id && r.Fields[pointer] == nil {
			r.Fields[pointer] = key
			r.Fields[original] = url
			m.writes++
			return true, nil
		}
	}
	return false, nil
}

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    bool
}

func newMemUploader() *memUploader {
	return &memUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (u *memUploader) Upload(_ context.Context, key string, body []byte, contentType string) error {
	if u.fail {
		return errors.New("bucket unavailable")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = body
	u.types[key] = contentType
	return nil
}

func (u *memUploader) keys() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.objects))
	for k := range u.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	image := bytes.Repeat([]byte{0xFF}, 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cover.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(image)
		case "/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write(image)
		case "/photo":
			_, _ = w.Write(image)
		case "/tiny.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("tiny"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(st RecordStore, up Uploader, claimer Claimer, ttl time.Duration) *Pipeline {
	return NewPipeline(Options{Concurrency: 3, ClaimTTL: ttl}, st, NewFetcher(2*time.Second, "test-agent", 100, 1<<20), up, claimer, nil)
}

func TestRunOnceUsesFallbackAndRecordsOriginalURL(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("tiktok_videos", "t1", "org-1", map[string]any{
		"cover_url":       "",
		"video_cover_url": origin.URL + "/cover.png",
		"storage_path":    nil,
	})
	up := newMemUploader()

	res := newTestPipeline(st, up, nil, 0).RunOnce(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 0, res.FailCount)
	assert.Equal(t, []string{"org-1/tiktok/t1.png"}, up.keys())
	assert.Equal(t, "image/png", up.types["org-1/tiktok/t1.png"])
	assert.Equal(t, "org-1/tiktok/t1.png", st.field("tiktok_videos", "t1", "storage_path"))
	assert.Equal(t, origin.URL+"/cover.png", st.field("tiktok_videos", "t1", "original_cover_url"))
}

func TestRunOnceIsIdempotent(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("instagram_posts", "i1", "org-1", map[string]any{"media_url": origin.URL + "/photo"})
	st.add("facebook_posts", "f1", "org-2", map[string]any{"images": []any{origin.URL + "/clip.mp4"}})
	up := newMemUploader()
	p := newTestPipeline(st, up, nil, 0)

	first := p.RunOnce(context.Background())
	assert.Equal(t, 2, first.SuccessCount)
	assert.Equal(t, []string{"org-1/instagram/i1.jpg", "org-2/facebook/f1.mp4"}, up.keys())
	writes := st.writes

	second := p.RunOnce(context.Background())
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, writes, st.writes)
}

func TestRunOnceSkipsFailedFetchesForRetry(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("linkedin_posts", "l404", "org-1", map[string]any{"image_url": origin.URL + "/missing.jpg"})
	st.add("linkedin_posts", "ltiny", "org-1", map[string]any{"media_thumbnail": origin.URL + "/tiny.jpg"})
	st.add("linkedin_posts", "lnone", "org-1", map[string]any{"image_url": nil})
	up := newMemUploader()
	p := newTestPipeline(st, up, nil, 0)

	res := p.RunOnce(context.Background())
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 3, res.FailCount)
	assert.Empty(t, up.keys())
	assert.Equal(t, 0, st.writes)
	assert.Nil(t, st.field("linkedin_posts", "l404", "storage_path"))

	pending, err := st.PendingMedia(context.Background(), "linkedin_posts", "storage_path", 20)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "failed records stay eligible for the next run")
}

func TestRunOnceUploadFailureLeavesPointerNull(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("tiktok_videos", "t1", "org-1", map[string]any{"cover_url": origin.URL + "/cover.png"})
	up := newMemUploader()
	up.fail = true

	res := newTestPipeline(st, up, nil, 0).RunOnce(context.Background())
	assert.Equal(t, 1, res.FailCount)
	assert.Nil(t, st.field("tiktok_videos", "t1", "storage_path"))
}

func TestRunOnceScanErrorContinuesWithOtherTables(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.scanErr["tiktok_videos"] = errors.New("relation does not exist")
	st.add("linkedin_posts", "l1", "org-1", map[string]any{"image_url": origin.URL + "/cover.png"})

	res := newTestPipeline(st, newMemUploader(), nil, 0).RunOnce(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SuccessCount)
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	for _, id := range []string{"a", "b", "c"} {
		st.add("tiktok_videos", id, "org-1", map[string]any{"cover_url": origin.URL + "/cover.png"})
	}
	p := NewPipeline(Options{Sources: DefaultSources[:1], BatchSize: 2}, st, NewFetcher(time.Second, "", 0, 0), newMemUploader(), nil, nil)

	assert.Equal(t, 2, p.RunOnce(context.Background()).SuccessCount)
	assert.Equal(t, 1, p.RunOnce(context.Background()).SuccessCount)
}

func TestRunOnceSkipsClaimedRecords(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	claimer := NewRedisClaimer(client)

	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("tiktok_videos", "held", "org-1", map[string]any{"cover_url": origin.URL + "/cover.png"})
	st.add("tiktok_videos", "bad", "org-1", map[string]any{"cover_url": origin.URL + "/missing"})

	ok, err := claimer.Claim(context.Background(), "tiktok_videos:held", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res := newTestPipeline(st, newMemUploader(), claimer, time.Minute).RunOnce(context.Background())
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.FailCount)
	assert.Nil(t, st.field("tiktok_videos", "held", "storage_path"))
	assert.False(t, mr.Exists("media:claim:tiktok_videos:bad"), "failed record lease is released")
}

type brokenClaimer struct{}

func (brokenClaimer) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis unavailable")
}

func (brokenClaimer) Release(context.Context, string) error { return nil }

func TestRunOnceCountsClaimErrorsAsFailures(t *testing.T) {
	origin := newOrigin(t)
	st := newMemRecordStore()
	st.add("tiktok_videos", "r1", "org-1", map[string]any{"cover_url": origin.URL + "/cover.png"})

	up := newMemUploader()
	res := newTestPipeline(st, up, brokenClaimer{}, time.Minute).RunOnce(context.Background())

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.FailCount)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Empty(t, up.keys())
	assert.Nil(t, st.field("tiktok_videos", "r1", "storage_path"))
}
