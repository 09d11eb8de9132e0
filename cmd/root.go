package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedcast",
		Usage: "Poll news feeds and stream new articles to live subscribers",
		Description: `Feedcast polls a list of RSS and Atom feeds, deduplicates their
		entries against a Redis or SQLite store and keeps the newest articles
		in a bounded buffer. New articles are pushed to every connected client
		over server-sent events.

		Flags can generally be set via environment variables, e.g.:

		--port => FEEDCAST_PORT=8080
		--store => FEEDCAST_STORE=sqlite

		A .env file in the working directory is loaded on start.
		`,
		Flags:  logFlags(),
		Before: setupLogging,
		Commands: []*cli.Command{
			serveCmd(),
			pollCmd(),
			clearCmd(),
			exportCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// Execute loads .env and runs the app with the process arguments
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("Failed to load .env file")
	}

	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
