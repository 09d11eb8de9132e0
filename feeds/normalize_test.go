package feeds_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcast/feeds"
	"feedcast/models"
)

func TestNormalizeMalformed(t *testing.T) {
	n := feeds.NewNormalizer("")

	tests := []struct {
		name  string
		entry feeds.Entry
	}{
		{name: "no title", entry: feeds.Entry{Link: "https://example.com/a"}},
		{name: "no link", entry: feeds.Entry{Title: "A"}},
		{name: "blank title", entry: feeds.Entry{Title: "   ", Link: "https://example.com/a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.entry, "example.com")
			assert.True(t, errors.Is(err, feeds.ErrMalformedEntry))
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	n := feeds.NewNormalizer("")
	n.Now = func() time.Time { return fixed }

	tests := []struct {
		name        string
		dates       []feeds.DateField
		expected    time.Time
		synthesized bool
	}{
		{
			name:     "rfc2822",
			dates:    []feeds.DateField{{Name: "published", Value: "Tue, 10 Jun 2025 04:05:06 +0200"}},
			expected: time.Date(2025, 6, 10, 2, 5, 6, 0, time.UTC),
		},
		{
			name:     "rfc2822 with zone name",
			dates:    []feeds.DateField{{Name: "published", Value: "Tue, 10 Jun 2025 04:05:06 GMT"}},
			expected: time.Date(2025, 6, 10, 4, 5, 6, 0, time.UTC),
		},
		{
			name:     "iso8601",
			dates:    []feeds.DateField{{Name: "published", Value: "2025-06-10T04:05:06Z"}},
			expected: time.Date(2025, 6, 10, 4, 5, 6, 0, time.UTC),
		},
		{
			name:     "iso8601 without zone",
			dates:    []feeds.DateField{{Name: "published", Value: "2025-06-10T04:05:06"}},
			expected: time.Date(2025, 6, 10, 4, 5, 6, 0, time.UTC),
		},
		{
			name: "first parseable field wins",
			dates: []feeds.DateField{
				{Name: "published", Value: "not a date"},
				{Name: "pubDate", Value: ""},
				{Name: "updated", Value: "2025-01-02T03:04:05+01:00"},
				{Name: "created", Value: "2020-01-01T00:00:00Z"},
			},
			expected: time.Date(2025, 1, 2, 2, 4, 5, 0, time.UTC),
		},
		{
			name:        "no dates",
			expected:    fixed,
			synthesized: true,
		},
		{
			name:        "garbage only",
			dates:       []feeds.DateField{{Name: "published", Value: "yesterday-ish"}},
			expected:    fixed,
			synthesized: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := n.Normalize(feeds.Entry{
				Title: "Title",
				Link:  "https://example.com/a",
				Dates: tt.dates,
			}, "example.com")
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(item.Timestamp), "got %s", item.Timestamp)
			assert.Equal(t, tt.synthesized, item.TimestampSynthesized)
		})
	}
}

func TestNormalizeSynthesizedTimestampIsNow(t *testing.T) {
	n := feeds.NewNormalizer("")

	item, err := n.Normalize(feeds.Entry{Title: "Title", Link: "https://example.com/a"}, "example.com")
	require.NoError(t, err)

	formatted := item.Timestamp.Format(time.RFC3339)
	parsed, err := time.Parse(time.RFC3339, formatted)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), parsed, 5*time.Second)
	assert.True(t, item.TimestampSynthesized)
}

func TestNormalizeCategories(t *testing.T) {
	tests := []struct {
		name     string
		def      string
		tags     []string
		expected []models.Category
	}{
		{
			name:     "no tags",
			expected: []models.Category{{Term: feeds.DefaultCategory}},
		},
		{
			name:     "custom default",
			def:      "Markets",
			expected: []models.Category{{Term: "Markets"}},
		},
		{
			name:     "blank tags",
			tags:     []string{"", "  "},
			expected: []models.Category{{Term: feeds.DefaultCategory}},
		},
		{
			name:     "tags kept in order without duplicates",
			tags:     []string{"Bitcoin", " Ethereum ", "Bitcoin"},
			expected: []models.Category{{Term: "Bitcoin"}, {Term: "Ethereum"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := feeds.NewNormalizer(tt.def).Normalize(feeds.Entry{
				Title: "Title",
				Link:  "https://example.com/a",
				Tags:  tt.tags,
			}, "example.com")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, item.Categories)
		})
	}
}

func TestNormalizeFields(t *testing.T) {
	n := feeds.NewNormalizer("")

	item, err := n.Normalize(feeds.Entry{
		Title:   "  Bitcoin rallies  ",
		Link:    "https://example.com/btc",
		Summary: `<p>Up <img src="https://img.example.com/a.png" alt="chart"></p>`,
		Content: "<p>full text</p>",
	}, "example.com")
	require.NoError(t, err)

	assert.Equal(t, feeds.ItemID("https://example.com/btc"), item.ID)
	assert.Equal(t, "Bitcoin rallies", item.Title)
	assert.Equal(t, `<p>Up <img src="https://img.example.com/a.png"></p>`, item.Content)
	assert.Equal(t, "example.com", item.Source)
	assert.Equal(t, "https://example.com/btc", item.URL)
	assert.Equal(t, "https://img.example.com/a.png", item.ImageURL)

	// Falls back to content when there is no summary
	item, err = n.Normalize(feeds.Entry{
		Title:   "Title",
		Link:    "https://example.com/c",
		Content: "<p>full text</p>",
	}, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "<p>full text</p>", item.Content)
}

func TestItemIDStable(t *testing.T) {
	id1 := feeds.ItemID("https://example.com/post-1")
	id2 := feeds.ItemID("https://example.com/post-2")

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, feeds.ItemID("https://example.com/post-1"))
	assert.Len(t, id1, 32)
}
