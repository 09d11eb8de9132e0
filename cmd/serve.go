package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedcast/export"
	"feedcast/server"
)

func serveCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   8000,
			Usage:   "Port to listen on",
			EnvVars: []string{"FEEDCAST_PORT"},
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "0.0.0.0",
			Usage:   "Interface to listen on",
			EnvVars: []string{"FEEDCAST_HOST"},
		},
		&cli.StringFlag{
			Name:    "cors-origins",
			Value:   server.DefaultAllowOrigins,
			Usage:   "Comma separated list of allowed CORS origins",
			EnvVars: []string{"FEEDCAST_CORS_ORIGINS"},
		},
		&cli.DurationFlag{
			Name:    "keep-alive",
			Value:   server.DefaultKeepAlive,
			Usage:   "Interval between keep-alive pings on the event stream",
			EnvVars: []string{"FEEDCAST_KEEP_ALIVE"},
		},
	}
	flags = append(flags, storeFlags()...)
	flags = append(flags, sourcesFlags()...)
	flags = append(flags, schedulerFlags()...)
	flags = append(flags, exportFlags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the article buffer and live stream",
		Description: `Starts the HTTP server and the feed poller.

The poller fills the buffer from all sources, then polls standard and
restricted sources on their own intervals. New articles are pushed to
clients connected to /stream. /articles returns the current buffer.`,
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			st, err := openStore(ctx)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore(st)

			exporter, err := export.New(ctx.String("export-dir"))
			if err != nil {
				return err
			}

			bc := server.NewBroadcaster()
			scheduler, err := newScheduler(ctx, st, bc)
			if err != nil {
				return err
			}

			app := server.Server(&server.ServerConfig{
				Feed:         scheduler,
				Broadcaster:  bc,
				Exporter:     exporter,
				AllowOrigins: ctx.String("cors-origins"),
				KeepAlive:    ctx.Duration("keep-alive"),
			})

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			schedulerDone := make(chan error, 1)
			go func() {
				schedulerDone <- scheduler.Run(runCtx)
			}()

			listenErr := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf("%s:%d", ctx.String("host"), ctx.Int("port"))
				log.WithField("addr", addr).Info("Starting server")
				listenErr <- app.Listen(addr)
			}()

			var runErr error
			select {
			case <-runCtx.Done():
				log.Info("Gracefully shutting down")
			case runErr = <-listenErr:
				log.WithError(runErr).Error("Server stopped")
			case runErr = <-schedulerDone:
				log.WithError(runErr).Error("Scheduler stopped")
				schedulerDone <- runErr
			}
			stop()

			// Teardown order: scheduler, subscribers, HTTP server, store (deferred)
			if err := <-schedulerDone; err != nil {
				log.WithError(err).Error("Scheduler error")
			}
			bc.Shutdown()
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				log.WithError(err).Warn("Server shutdown")
			}

			log.Info("Done")
			return runErr
		},
	}
}
