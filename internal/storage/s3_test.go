package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrichment-pipeline/internal/config"
)

func TestSignURLIsOfflineAndScoped(t *testing.T) {
	st, err := NewS3(context.Background(), config.Config{
		S3Bucket:    "media",
		S3Region:    "us-east-1",
		S3Endpoint:  "http://localhost:9000",
		S3PathStyle: true,
		S3AccessKey: "key",
		S3SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "media", st.Bucket())

	signed, err := st.SignURL(context.Background(), "", "org-1/tiktok/abc.jpg", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/media/org-1/tiktok/abc.jpg"), u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}
