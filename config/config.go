package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"feedcast/feeds"
	"feedcast/models"
)

//go:embed sources.toml
var defaultSources []byte

// DefaultCategory is used when the sources file does not set one
const DefaultCategory = feeds.DefaultCategory

// TomlSource represents a single feed in the sources file
type TomlSource struct {
	URL  string `toml:"url"`
	Name string `toml:"name,omitempty"`
	Tier string `toml:"tier,omitempty"`
}

// TomlConfig represents the top-level sources file
type TomlConfig struct {
	DefaultCategory string       `toml:"default_category"`
	RestrictedHosts []string     `toml:"restricted_hosts"`
	Sources         []TomlSource `toml:"sources"`
}

// Source is a validated polling target
type Source struct {
	URL  string
	Name string
	Tier models.Tier
}

// Config is the validated sources configuration
type Config struct {
	DefaultCategory string
	Sources         []Source
}

// LoadConfig reads the sources file at path. An empty path loads the
// embedded default list.
func LoadConfig(path string) (*Config, error) {
	data := defaultSources
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return Parse(data)
}

// Parse decodes and validates a TOML sources document
func Parse(data []byte) (*Config, error) {
	var raw TomlConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg := &Config{
		DefaultCategory: strings.TrimSpace(raw.DefaultCategory),
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = DefaultCategory
	}

	seen := map[string]bool{}
	for i, s := range raw.Sources {
		u, err := url.Parse(strings.TrimSpace(s.URL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("source %d: invalid url %q", i, s.URL)
		}
		if seen[u.String()] {
			return nil, fmt.Errorf("source %d: duplicate url %q", i, s.URL)
		}
		seen[u.String()] = true

		tier, err := classify(u, s.Tier, raw.RestrictedHosts)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}

		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = u.Host
		}

		cfg.Sources = append(cfg.Sources, Source{
			URL:  u.String(),
			Name: name,
			Tier: tier,
		})
	}

	return cfg, nil
}

// ByTier returns the sources belonging to tier, in file order
func (c *Config) ByTier(tier models.Tier) []Source {
	return lo.Filter(c.Sources, func(s Source, _ int) bool {
		return s.Tier == tier
	})
}

// classify resolves the tier of a source. An explicit tier wins, otherwise
// the host is matched against the restricted host list.
func classify(u *url.URL, explicit string, restrictedHosts []string) (models.Tier, error) {
	switch models.Tier(strings.ToLower(strings.TrimSpace(explicit))) {
	case models.TierStandard:
		return models.TierStandard, nil
	case models.TierRestricted:
		return models.TierRestricted, nil
	case "":
	default:
		return "", fmt.Errorf("unknown tier %q", explicit)
	}

	host := strings.ToLower(u.Hostname())
	restricted := lo.ContainsBy(restrictedHosts, func(h string) bool {
		h = strings.ToLower(strings.TrimSpace(h))
		return h != "" && (host == h || strings.HasSuffix(host, "."+h))
	})
	if restricted {
		return models.TierRestricted, nil
	}
	return models.TierStandard, nil
}
