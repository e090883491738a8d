package media

import (
	"net/url"
	"strings"
)

// Source describes one table scanned for remote media.
type Source struct {
	Table             string
	SourceType        string
	PrimaryImageField string
	// OriginalURLField receives the resolved candidate URL once ingestion succeeds.
	OriginalURLField string
}

// DefaultSources are the tables scanned when no explicit list is configured.
var DefaultSources = []Source{
	{Table: "tiktok_videos", SourceType: "tiktok", PrimaryImageField: "cover_url", OriginalURLField: "original_cover_url"},
	{Table: "linkedin_posts", SourceType: "linkedin", PrimaryImageField: "image_url", OriginalURLField: "original_media_url"},
	{Table: "instagram_posts", SourceType: "instagram", PrimaryImageField: "media_url", OriginalURLField: "original_image_url"},
	{Table: "facebook_posts", SourceType: "facebook", PrimaryImageField: "images", OriginalURLField: "original_image_url"},
}

// FieldAccessor extracts a candidate URL from a record, or "" when it has none.
type FieldAccessor func(fields map[string]any) string

// Field returns an accessor reading name as a URL or a list whose first element is a URL.
func Field(name string) FieldAccessor {
	return func(fields map[string]any) string {
		return urlValue(fields[name])
	}
}

// FallbackChains lists, per source type, the accessors tried in order when the
// primary image field is empty. Adding a source type only needs an entry here.
var FallbackChains = map[string][]FieldAccessor{
	"tiktok":    {Field("video_cover_url"), Field("original_cover_url")},
	"linkedin":  {Field("media_thumbnail"), Field("original_media_url")},
	"instagram": {Field("original_image_url"), Field("video_url"), Field("profile_picture_url")},
	"facebook":  {Field("original_image_url"), Field("video_url")},
}

// ResolveCandidate picks the URL to ingest for a record: the primary field first,
// then the source type's fallback chain.
func ResolveCandidate(src Source, fields map[string]any, chains map[string][]FieldAccessor) string {
	if u := Field(src.PrimaryImageField)(fields); u != "" {
		return u
	}
	for _, accessor := range chains[src.SourceType] {
		if u := accessor(fields); u != "" {
			return u
		}
	}
	return ""
}

func urlValue(v any) string {
	switch t := v.(type) {
	case string:
		return validURL(t)
	case *string:
		if t != nil {
			return validURL(*t)
		}
	case []string:
		if len(t) > 0 {
			return validURL(t[0])
		}
	case []any:
		if len(t) > 0 {
			return urlValue(t[0])
		}
	}
	return ""
}

func validURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return raw
	}
	return ""
}
