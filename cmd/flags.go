package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedcast/config"
	"feedcast/db"
	"feedcast/export"
	"feedcast/feeds"
	"feedcast/models"
	"feedcast/poller"
	"feedcast/store"
)

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (trace, debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"FEEDCAST_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format, text or json",
			Value:   "text",
			EnvVars: []string{"FEEDCAST_LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this file",
			EnvVars: []string{"FEEDCAST_LOG_FILE"},
		},
	}
}

// setupLogging configures logrus from the global flags. Logs always go to
// stderr so stdout stays free for command output.
func setupLogging(ctx *cli.Context) error {
	level, err := log.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(ctx.String("log-format")) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", ctx.String("log-format"))
	}

	var out io.Writer = os.Stderr
	if path := ctx.String("log-file"); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	log.SetOutput(out)

	return nil
}

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "feed.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"FEEDCAST_DATABASE"},
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Value:   "redis",
			Usage:   "Store backend, redis or sqlite",
			EnvVars: []string{"FEEDCAST_STORE"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Value:   "localhost:6379",
			Usage:   "Redis address",
			EnvVars: []string{"FEEDCAST_REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{"FEEDCAST_REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{"FEEDCAST_REDIS_DB"},
		},
		databaseFlag(),
	}
}

// openStore connects the configured backend. Failure here is fatal for the
// calling command.
func openStore(ctx *cli.Context) (store.Store, error) {
	switch backend := ctx.String("store"); backend {
	case "redis":
		return store.Dial(ctx.Context, store.RedisConfig{
			Addr:     ctx.String("redis-addr"),
			Password: ctx.String("redis-password"),
			DB:       ctx.Int("redis-db"),
		})
	case "sqlite":
		path := ctx.String("database")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return db.Open(path)
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}
}

func sourcesFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "sources",
			Usage:   "TOML file listing the feeds, the built in list when empty",
			EnvVars: []string{"FEEDCAST_SOURCES"},
		},
		&cli.StringFlag{
			Name:    "default-category",
			Usage:   "Category for entries without tags, overrides the sources file",
			EnvVars: []string{"FEEDCAST_DEFAULT_CATEGORY"},
		},
	}
}

func loadSources(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String("sources"))
	if err != nil {
		return nil, err
	}
	if category := ctx.String("default-category"); category != "" {
		cfg.DefaultCategory = category
	}

	log.WithFields(log.Fields{
		"sources":    len(cfg.Sources),
		"restricted": len(cfg.ByTier(models.TierRestricted)),
	}).Info("Loaded sources")
	return cfg, nil
}

func schedulerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "buffer-size",
			Value:   poller.DefaultBufferSize,
			Usage:   "Number of articles kept in the buffer",
			EnvVars: []string{"FEEDCAST_BUFFER_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "ttl",
			Value:   store.DefaultTTL,
			Usage:   "How long a stored article is remembered",
			EnvVars: []string{"FEEDCAST_TTL"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Value:   poller.DefaultPollInterval,
			Usage:   "Polling interval of standard sources",
			EnvVars: []string{"FEEDCAST_POLL_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "restricted-poll-interval",
			Value:   poller.DefaultRestrictedPollInterval,
			Usage:   "Polling interval of restricted sources",
			EnvVars: []string{"FEEDCAST_RESTRICTED_POLL_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "fill-pause",
			Value:   poller.DefaultFillPause,
			Usage:   "Pause between passes while filling the buffer",
			EnvVars: []string{"FEEDCAST_FILL_PAUSE"},
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Value:   poller.DefaultInitialRetryDelay,
			Usage:   "Initial delay before retrying a failed source",
			EnvVars: []string{"FEEDCAST_RETRY_DELAY"},
		},
		&cli.DurationFlag{
			Name:    "max-retry-delay",
			Value:   poller.DefaultMaxRetryDelay,
			Usage:   "Maximum delay between retries",
			EnvVars: []string{"FEEDCAST_MAX_RETRY_DELAY"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Value:   poller.DefaultMaxAttempts,
			Usage:   "Fetch attempts per source and pass",
			EnvVars: []string{"FEEDCAST_MAX_ATTEMPTS"},
		},
		&cli.IntFlag{
			Name:    "cap-retries",
			Value:   poller.DefaultCapRetries,
			Usage:   "Retries at the maximum delay before skipping a source for the pass",
			EnvVars: []string{"FEEDCAST_CAP_RETRIES"},
		},
		&cli.DurationFlag{
			Name:    "restricted-fetch-gap",
			Value:   poller.DefaultRestrictedFetchGap,
			Usage:   "Minimum time between two fetches of restricted sources",
			EnvVars: []string{"FEEDCAST_RESTRICTED_FETCH_GAP"},
		},
		&cli.IntFlag{
			Name:    "max-concurrent-fetches",
			Usage:   "Limit on parallel fetches in a pass, 0 for no limit",
			EnvVars: []string{"FEEDCAST_MAX_CONCURRENT_FETCHES"},
		},
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Value:   feeds.DefaultTotalTimeout,
			Usage:   "Total timeout of a feed request",
			EnvVars: []string{"FEEDCAST_FETCH_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "clear-on-start",
			Usage:   "Clear the store instead of restoring the buffer from it",
			EnvVars: []string{"FEEDCAST_CLEAR_ON_START"},
		},
	}
}

func schedulerConfig(ctx *cli.Context) poller.Config {
	return poller.Config{
		BufferSize:             ctx.Int("buffer-size"),
		TTL:                    ctx.Duration("ttl"),
		InitialRetryDelay:      ctx.Duration("retry-delay"),
		MaxRetryDelay:          ctx.Duration("max-retry-delay"),
		MaxAttempts:            ctx.Int("max-attempts"),
		CapRetries:             ctx.Int("cap-retries"),
		PollInterval:           ctx.Duration("poll-interval"),
		RestrictedPollInterval: ctx.Duration("restricted-poll-interval"),
		FillPause:              ctx.Duration("fill-pause"),
		RestrictedFetchGap:     ctx.Duration("restricted-fetch-gap"),
		MaxConcurrentFetches:   ctx.Int("max-concurrent-fetches"),
		ClearOnStart:           ctx.Bool("clear-on-start"),
	}
}

// newScheduler wires sources, fetcher and store into a scheduler
func newScheduler(ctx *cli.Context, st store.Store, publisher poller.Publisher) (*poller.Scheduler, error) {
	sources, err := loadSources(ctx)
	if err != nil {
		return nil, err
	}

	fetcher := feeds.NewHTTPFetcher(feeds.FetcherConfig{
		TotalTimeout: ctx.Duration("fetch-timeout"),
	})

	return poller.New(
		schedulerConfig(ctx),
		sources.Sources,
		fetcher,
		st,
		feeds.NewNormalizer(sources.DefaultCategory),
		publisher,
	), nil
}

func exportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "export-dir",
			Value:   export.DefaultDir,
			Usage:   "Directory for article exports",
			EnvVars: []string{"FEEDCAST_EXPORT_DIR"},
		},
	}
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
