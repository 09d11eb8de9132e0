package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"feedcast/models"
	"feedcast/store"
)

const (
	DefaultAllowOrigins = "http://localhost:3000"
	DefaultKeepAlive    = 15 * time.Second
)

// Feed is the buffer side of the service
type Feed interface {
	Snapshot() models.Snapshot
	Sources() []models.SourceStatus
	Clear(ctx context.Context) error
}

// Exporter writes a batch of items to a write-once record
type Exporter interface {
	Export(items []models.Item) (string, error)
	Latest(limit int) ([]models.Item, error)
}

type ServerConfig struct {
	Feed Feed

	// Fans out accepted items to SSE clients
	Broadcaster *Broadcaster

	// Optional, POST /export answers 503 without it
	Exporter Exporter

	// Comma separated CORS origins
	AllowOrigins string

	// Interval between SSE pings
	KeepAlive time.Duration
}

// Server returns a fiber.App serving the article buffer and its live stream
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster
	if config.AllowOrigins == "" {
		config.AllowOrigins = DefaultAllowOrigins
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultKeepAlive
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		// Compression buffers the event stream
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/stream")
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowOrigins,
		AllowHeaders:     "Cache-Control, Content-Type",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		AllowCredentials: !strings.Contains(config.AllowOrigins, "*"),
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/articles", func(c *fiber.Ctx) error {
		snapshot := config.Feed.Snapshot()
		return c.Status(statusCode(snapshot.Status)).JSON(snapshot)
	})

	app.Get("/sources", cache.New(cache.Config{
		Expiration: 2 * time.Second,
	}), func(c *fiber.Ctx) error {
		return c.JSON(config.Feed.Sources())
	})

	app.Post("/clear-cache", func(c *fiber.Ctx) error {
		err := config.Feed.Clear(c.UserContext())
		switch {
		case err == nil:
			return c.JSON(fiber.Map{
				"status":  "success",
				"message": "Cache cleared",
			})
		case errors.Is(err, store.ErrUnavailable):
			log.WithError(err).Warn("Store unavailable while clearing cache")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "error",
				"message": "Store unavailable, buffer was reset",
			})
		default:
			log.WithError(err).Error("Error clearing cache")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Error clearing cache",
			})
		}
	})

	app.Post("/export", func(c *fiber.Ctx) error {
		if config.Exporter == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "error",
				"message": "Export is not configured",
			})
		}

		items := config.Feed.Snapshot().Articles
		path, err := config.Exporter.Export(items)
		if err != nil {
			log.WithError(err).Error("Error exporting articles")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Error exporting articles",
			})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"status":      "success",
			"path":        path,
			"total_count": len(items),
		})
	})

	app.Get("/export/latest", func(c *fiber.Ctx) error {
		if config.Exporter == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "error",
				"message": "Export is not configured",
			})
		}

		items, err := config.Exporter.Latest(c.QueryInt("limit", -1))
		if err != nil {
			log.WithError(err).Error("Error reading latest export")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Error reading latest export",
			})
		}

		return c.JSON(fiber.Map{
			"articles":    items,
			"total_count": len(items),
		})
	})

	app.Delete("/stream", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		if key == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Missing key")
		}
		if !bc.UnregisterID(key) {
			return c.Status(fiber.StatusNotFound).SendString("Unknown key")
		}
		return c.SendString("OK")
	})

	app.Get("/stream", func(c *fiber.Ctx) error {
		sub, err := bc.Register()
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("Server shutting down")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer bc.Unregister(sub)
			stream(w, sub, config.Feed, config.KeepAlive)
		}))

		return nil
	})

	return app
}

func statusCode(status models.Status) int {
	switch status {
	case models.StatusReady:
		return fiber.StatusOK
	case models.StatusPartial:
		return fiber.StatusPartialContent
	default:
		return fiber.StatusServiceUnavailable
	}
}

// stream writes events for sub to w until the subscriber is closed or a
// write fails
func stream(w *bufio.Writer, sub *Subscriber, feed Feed, keepAlive time.Duration) {
	logger := log.WithField("key", sub.ID)

	// Send initial event with client key
	fmt.Fprintf(w, "event: init\ndata: %s\n\n", sub.ID)
	if err := w.Flush(); err != nil {
		logger.WithError(err).Warn("Failed to send init event")
		return
	}

	snapshot := feed.Snapshot()
	initial := models.Event{
		Type:     models.EventSnapshot,
		Articles: snapshot.Articles,
		Status:   snapshot.Status,
		Message:  snapshot.Message,
		BufferStatus: &models.BufferStatus{
			Required: snapshot.Required,
			Current:  snapshot.Current,
		},
	}
	if err := writeEvent(w, initial); err != nil {
		logger.WithError(err).Warn("Failed to send snapshot")
		return
	}

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-ping.C:
			if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
				logger.WithError(err).Debug("Failed to send ping")
				return
			}
			if err := w.Flush(); err != nil {
				logger.WithError(err).Debug("Failed to flush ping")
				return
			}

		case <-sub.Notify():
			if err := writeEvents(w, sub.Drain(), feed); err != nil {
				logger.WithError(err).Warn("Failed to send event")
				return
			}

		case <-sub.Done():
			// Flush whatever was queued before closing, including the shutdown notice
			if err := writeEvents(w, sub.Drain(), feed); err != nil {
				logger.WithError(err).Debug("Failed to send final events")
			}
			return
		}
	}
}

func writeEvents(w *bufio.Writer, events []models.Event, feed Feed) error {
	if len(events) == 0 {
		return nil
	}

	snapshot := feed.Snapshot()
	for _, event := range events {
		if event.BufferStatus == nil && event.Type != models.EventShutdown {
			event.BufferStatus = &models.BufferStatus{
				Required: snapshot.Required,
				Current:  snapshot.Current,
			}
			event.Status = snapshot.Status
		}
		if err := writeEvent(w, event); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w *bufio.Writer, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
