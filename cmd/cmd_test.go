package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcast/models"
)

func TestMigrateTidyAndExportSQLite(t *testing.T) {
	dir := t.TempDir()
	database := filepath.Join(dir, "data", "feed.db")
	exports := filepath.Join(dir, "exports")

	app := RootApp()
	require.NoError(t, app.Run([]string{"feedcast", "migrate", "--database", filepath.Join(dir, "plain.db")}))
	require.NoError(t, app.Run([]string{"feedcast", "tidy", "--database", filepath.Join(dir, "plain.db")}))
	require.NoError(t, app.Run([]string{"feedcast", "clear", "--store", "sqlite", "--database", database}))
	require.NoError(t, app.Run([]string{"feedcast", "export", "--store", "sqlite", "--database", database, "--export-dir", exports}))

	matches, err := filepath.Glob(filepath.Join(exports, "articles_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestUnknownStore(t *testing.T) {
	err := RootApp().Run([]string{"feedcast", "clear", "--store", "memcached"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store")
}

func TestLoggingFlags(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	logFile := filepath.Join(t.TempDir(), "logs", "feedcast.log")
	err := RootApp().Run([]string{"feedcast", "--log-level", "debug", "--log-format", "json", "--log-file", logFile, "migrate", "--database", filepath.Join(t.TempDir(), "feed.db")})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.FileExists(t, logFile)

	err = RootApp().Run([]string{"feedcast", "--log-level", "loud", "migrate"})
	assert.Error(t, err)
}

func TestLinePrinter(t *testing.T) {
	var buf bytes.Buffer
	printer := &linePrinter{out: &buf}

	n := printer.Publish(
		models.Item{ID: "a", Title: "First", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		models.Item{ID: "b", Title: "Second", Timestamp: time.Date(2025, 6, 1, 0, 1, 0, 0, time.UTC)},
	)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var item models.Item
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &item))
	assert.Equal(t, "Second", item.Title)
}

const pollFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example news</title>
    <link>https://example.com</link>
    <item>
      <title>First</title>
      <link>https://example.com/1</link>
      <pubDate>Tue, 10 Jun 2025 04:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Second</title>
      <link>https://example.com/2</link>
      <pubDate>Tue, 10 Jun 2025 05:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Third</title>
      <link>https://example.com/3</link>
      <pubDate>Tue, 10 Jun 2025 06:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

func TestPollOncePrintsEachItemOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pollFeed))
	}))
	defer srv.Close()

	dir := t.TempDir()
	sources := filepath.Join(dir, "sources.toml")
	require.NoError(t, os.WriteFile(sources, []byte(fmt.Sprintf("[[sources]]\nurl = %q\nname = \"example\"\n", srv.URL)), 0o644))

	var out bytes.Buffer
	app := RootApp()
	app.Writer = &out

	err := app.Run([]string{"feedcast", "poll", "--once",
		"--store", "sqlite",
		"--database", filepath.Join(dir, "feed.db"),
		"--sources", sources,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	titles := make([]string, 0, len(lines))
	for _, line := range lines {
		var item models.Item
		require.NoError(t, json.Unmarshal([]byte(line), &item))
		titles = append(titles, item.Title)
	}
	assert.Equal(t, []string{"Third", "Second", "First"}, titles)
}
