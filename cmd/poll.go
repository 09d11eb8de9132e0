package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedcast/models"
	"feedcast/poller"
)

// linePrinter writes every published item as one JSON line
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) Publish(items ...models.Item) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, item := range items {
		printJSONLine(p.out, item)
	}
	return len(items)
}

func printJSONLine(out io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("Failed to encode item")
		return
	}
	fmt.Fprintln(out, string(data))
}

func pollCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:    "once",
			Usage:   "Run a single pass over all sources and print the buffer",
			EnvVars: []string{"FEEDCAST_POLL_ONCE"},
		},
	}
	flags = append(flags, storeFlags()...)
	flags = append(flags, sourcesFlags()...)
	flags = append(flags, schedulerFlags()...)

	return &cli.Command{
		Name:  "poll",
		Usage: "Poll the feeds and print new articles to the command line",
		Description: `Runs the feed poller without the HTTP server.

Returns each new article as a JSON object on a single line. Use a tool like
jq to process the output.

Prints all other log messages to stderr.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore(st)

			out := ctx.App.Writer
			once := ctx.Bool("once")

			// A single pass prints the buffer at the end instead of each new item
			var publisher poller.Publisher
			if !once {
				publisher = &linePrinter{out: out}
			}

			scheduler, err := newScheduler(ctx, st, publisher)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				scheduler.PollAll(runCtx)
				for _, item := range scheduler.Snapshot().Articles {
					printJSONLine(out, item)
				}
				return nil
			}

			return scheduler.Run(runCtx)
		},
	}
}
