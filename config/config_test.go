package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcast/config"
	"feedcast/models"
)

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(`
default_category = "Markets"
restricted_hosts = ["slow.example.com"]

[[sources]]
url = "https://fast.example.com/rss"

[[sources]]
url = "https://feeds.slow.example.com/rss"

[[sources]]
url = "https://other.example.org/feed"
name = "other"
tier = "restricted"
`))
	require.NoError(t, err)

	assert.Equal(t, "Markets", cfg.DefaultCategory)
	require.Len(t, cfg.Sources, 3)

	assert.Equal(t, "fast.example.com", cfg.Sources[0].Name)
	assert.Equal(t, models.TierStandard, cfg.Sources[0].Tier)
	assert.Equal(t, models.TierRestricted, cfg.Sources[1].Tier)
	assert.Equal(t, "other", cfg.Sources[2].Name)
	assert.Equal(t, models.TierRestricted, cfg.Sources[2].Tier)

	assert.Len(t, cfg.ByTier(models.TierStandard), 1)
	assert.Len(t, cfg.ByTier(models.TierRestricted), 2)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "invalid toml",
			doc:  `sources = [`,
		},
		{
			name: "relative url",
			doc: `[[sources]]
url = "/rss"`,
		},
		{
			name: "unsupported scheme",
			doc: `[[sources]]
url = "ftp://example.com/rss"`,
		},
		{
			name: "unknown tier",
			doc: `[[sources]]
url = "https://example.com/rss"
tier = "sometimes"`,
		},
		{
			name: "duplicate url",
			doc: `[[sources]]
url = "https://example.com/rss"
[[sources]]
url = "https://example.com/rss"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultCategory, cfg.DefaultCategory)
	assert.NotEmpty(t, cfg.ByTier(models.TierStandard))
	assert.NotEmpty(t, cfg.ByTier(models.TierRestricted))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[[sources]]
url = "https://example.com/rss"`), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultCategory, cfg.DefaultCategory)
	require.Len(t, cfg.Sources, 1)

	_, err = config.LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
