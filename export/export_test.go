package export_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcast/export"
	"feedcast/models"
)

func items(n int) []models.Item {
	out := make([]models.Item, n)
	for i := range out {
		out[i] = models.Item{
			ID:         fmt.Sprintf("id-%d", i),
			Title:      fmt.Sprintf("Title <%d>", i),
			Categories: []models.Category{{Term: "Bitcoin"}},
			Timestamp:  time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC),
		}
	}
	return out
}

func newExporter(t *testing.T, now time.Time) *export.Exporter {
	t.Helper()
	e, err := export.New(filepath.Join(t.TempDir(), "exports"))
	require.NoError(t, err)
	e.Now = func() time.Time { return now }
	return e
}

func TestExportWritesRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	e := newExporter(t, now)

	path, err := e.Export(items(3))
	require.NoError(t, err)
	assert.Equal(t, "articles_20250601_123045.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Title <0>")

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, float64(3), record["total_count"])
	assert.Equal(t, "2025-06-01T12:30:45Z", record["timestamp"])
	assert.Len(t, record["items"], 3)
}

func TestExportNeverOverwrites(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	e := newExporter(t, now)

	first, err := e.Export(items(1))
	require.NoError(t, err)
	second, err := e.Export(items(2))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	var record models.Export
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, 1, record.TotalCount)

	// The second one is the latest
	latest, err := e.Latest(-1)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
}

func TestExportEmpty(t *testing.T) {
	e := newExporter(t, time.Now())

	path, err := e.Export(nil)
	require.NoError(t, err)

	var record models.Export
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Zero(t, record.TotalCount)
	assert.NotNil(t, record.Items)
}

func TestLatest(t *testing.T) {
	e := newExporter(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	got, err := e.Latest(15)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.Export(items(2))
	require.NoError(t, err)

	e.Now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }
	_, err = e.Export(items(20))
	require.NoError(t, err)

	got, err = e.Latest(15)
	require.NoError(t, err)
	require.Len(t, got, 15)
	assert.Equal(t, "id-0", got[0].ID)
}

func TestLatestMissingDirectory(t *testing.T) {
	e := &export.Exporter{Dir: filepath.Join(t.TempDir(), "missing")}
	got, err := e.Latest(5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLatestManyExportsInOneSecond(t *testing.T) {
	e := newExporter(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	var last string
	for n := 1; n <= 12; n++ {
		path, err := e.Export(items(n))
		require.NoError(t, err)
		last = path
	}
	assert.Equal(t, "articles_20250601_120000_11.json", filepath.Base(last))

	// Unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir, "articles_notes.json"), []byte("{}"), 0o644))

	got, err := e.Latest(-1)
	require.NoError(t, err)
	assert.Len(t, got, 12)
}
