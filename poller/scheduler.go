// Package poller drives the feed fetch cycles and owns the item buffer
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedcast/buffer"
	"feedcast/config"
	"feedcast/feeds"
	"feedcast/models"
	"feedcast/store"
)

const (
	DefaultBufferSize             = 15
	DefaultInitialRetryDelay      = 5 * time.Second
	DefaultMaxRetryDelay          = 300 * time.Second
	DefaultMaxAttempts            = 4
	DefaultCapRetries             = 2
	DefaultPollInterval           = 120 * time.Second
	DefaultRestrictedPollInterval = 300 * time.Second
	DefaultFillPause              = 5 * time.Second
	DefaultRestrictedFetchGap     = 2 * time.Second
)

// Fetcher downloads the entries of a feed
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feeds.Entry, error)
}

// Publisher receives newly accepted items
type Publisher interface {
	Publish(items ...models.Item) int
}

// Config holds the scheduler settings. Zero values are replaced by defaults.
type Config struct {
	BufferSize int
	TTL        time.Duration

	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	MaxAttempts       int
	CapRetries        int

	PollInterval           time.Duration
	RestrictedPollInterval time.Duration
	FillPause              time.Duration

	// Minimum gap between two restricted tier fetches, negative disables it
	RestrictedFetchGap time.Duration

	// Zero polls every source of a pass at once
	MaxConcurrentFetches int

	ClearOnStart bool

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.TTL <= 0 {
		c.TTL = store.DefaultTTL
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = DefaultInitialRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CapRetries <= 0 {
		c.CapRetries = DefaultCapRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RestrictedPollInterval <= 0 {
		c.RestrictedPollInterval = DefaultRestrictedPollInterval
	}
	if c.FillPause <= 0 {
		c.FillPause = DefaultFillPause
	}
	if c.RestrictedFetchGap == 0 {
		c.RestrictedFetchGap = DefaultRestrictedFetchGap
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Scheduler polls every source, dedups their items against the store and
// keeps the newest of them in a buffer
type Scheduler struct {
	config     Config
	fetcher    Fetcher
	store      store.Store
	normalizer *feeds.Normalizer
	publisher  Publisher
	buffer     *buffer.Buffer
	trackers   []*Tracker
	limiter    *rate.Limiter

	// serializes the contains check and insert into the buffer
	ingestMu sync.Mutex

	degraded atomic.Bool
	ready    atomic.Bool
	refill   chan struct{}
}

// New creates a scheduler. A nil publisher discards accepted items.
func New(cfg Config, sources []config.Source, fetcher Fetcher, st store.Store, normalizer *feeds.Normalizer, publisher Publisher) *Scheduler {
	cfg = cfg.withDefaults()

	if normalizer == nil {
		normalizer = feeds.NewNormalizer("")
	}

	limit := rate.Inf
	if cfg.RestrictedFetchGap > 0 {
		limit = rate.Every(cfg.RestrictedFetchGap)
	}

	return &Scheduler{
		config:     cfg,
		fetcher:    fetcher,
		store:      st,
		normalizer: normalizer,
		publisher:  publisher,
		buffer:     buffer.New(cfg.BufferSize),
		trackers: lo.Map(sources, func(source config.Source, _ int) *Tracker {
			return NewTracker(source, cfg.InitialRetryDelay, cfg.MaxRetryDelay)
		}),
		limiter: rate.NewLimiter(limit, 1),
		refill:  make(chan struct{}, 1),
	}
}

// Run restores the buffer, fills it and then polls each tier on its own
// interval until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	s.restore(ctx)

	if err := s.fill(ctx); err != nil {
		return ignoreCanceled(err)
	}

	log.WithFields(log.Fields{
		"standard":   len(s.tier(models.TierStandard)),
		"restricted": len(s.tier(models.TierRestricted)),
		"interval":   s.config.PollInterval,
	}).Info("Switching to steady state polling")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.tierLoop(gctx, models.TierStandard, s.config.PollInterval)
	})
	g.Go(func() error {
		return s.tierLoop(gctx, models.TierRestricted, s.config.RestrictedPollInterval)
	})
	g.Go(func() error {
		return s.refillLoop(gctx)
	})

	return ignoreCanceled(g.Wait())
}

// PollAll runs a single pass over every source
func (s *Scheduler) PollAll(ctx context.Context) {
	s.pass(ctx, s.trackers)
}

func (s *Scheduler) restore(ctx context.Context) {
	if s.config.ClearOnStart {
		if err := s.store.Clear(ctx); err != nil {
			s.storeFailed("clear", err)
			return
		}
		log.Info("Cleared store on start")
		return
	}

	items, err := s.store.Recent(ctx, s.buffer.Capacity())
	if err != nil {
		s.storeFailed("recent", err)
		return
	}

	s.buffer.Load(items)
	bufferSize.Set(float64(s.buffer.Len()))
	s.markReady()

	log.WithFields(log.Fields{
		"restored": s.buffer.Len(),
		"required": s.buffer.Capacity(),
	}).Info("Restored buffer from store")
}

// fill runs passes over all sources until the buffer is ready
func (s *Scheduler) fill(ctx context.Context) error {
	for pass := 1; !s.buffer.Ready(); pass++ {
		s.pass(ctx, s.trackers)
		if err := ctx.Err(); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"pass":     pass,
			"current":  s.buffer.Len(),
			"required": s.buffer.Capacity(),
		}).Info("Initial fill pass complete")

		if s.buffer.Ready() {
			break
		}
		if err := s.config.Sleep(ctx, s.config.FillPause); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) tierLoop(ctx context.Context, tier models.Tier, interval time.Duration) error {
	trackers := s.tier(tier)
	if len(trackers) == 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.WithFields(log.Fields{
				"tier":    tier,
				"sources": len(trackers),
			}).Debug("Starting poll pass")
			s.pass(ctx, trackers)
		}
	}
}

func (s *Scheduler) refillLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.refill:
			log.Info("Buffer cleared, refilling")
			if err := s.fill(ctx); err != nil {
				return err
			}
		}
	}
}

// pass polls trackers concurrently and returns when all are done
func (s *Scheduler) pass(ctx context.Context, trackers []*Tracker) {
	var g errgroup.Group
	if s.config.MaxConcurrentFetches > 0 {
		g.SetLimit(s.config.MaxConcurrentFetches)
	}

	for _, t := range trackers {
		g.Go(func() error {
			s.pollSource(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

// pollSource fetches one source, retrying with backoff until it succeeds,
// runs out of attempts or keeps hitting the maximum delay
func (s *Scheduler) pollSource(ctx context.Context, t *Tracker) {
	if !t.polling.TryLock() {
		return
	}
	defer t.polling.Unlock()

	tier := string(t.Source.Tier)
	logger := log.WithFields(log.Fields{
		"source": t.Source.Name,
		"tier":   tier,
	})

	for attempt := 1; ; attempt++ {
		if t.Source.Tier == models.TierRestricted {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}

		t.begin()
		fetchAttempts.WithLabelValues(tier).Inc()
		start := time.Now()
		entries, err := s.fetcher.Fetch(ctx, t.Source.URL)
		fetchDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())

		if err == nil {
			t.succeed(time.Now())
			accepted := s.ingest(ctx, t.Source, entries)
			logger.WithFields(log.Fields{
				"entries":  len(entries),
				"accepted": accepted,
			}).Debug("Fetched source")
			return
		}

		if ctx.Err() != nil {
			t.cancel()
			return
		}

		fetchErrors.WithLabelValues(tier).Inc()
		wait := t.fail(err)
		logger = logger.WithFields(log.Fields{
			"attempt": attempt,
			"error":   err,
		})

		if errors.Is(err, feeds.ErrMalformedFeed) || attempt >= s.config.MaxAttempts || t.CapHits() > s.config.CapRetries {
			logger.WithField("delay", t.Delay()).Warn("Giving up on source until next pass")
			return
		}

		logger.WithField("wait", wait).Warn("Fetch failed, retrying")
		if err := s.config.Sleep(ctx, wait); err != nil {
			return
		}
	}
}

// ingest normalizes entries, drops the ones already seen and inserts the
// rest into the buffer. The newest accepted item still buffered afterwards
// is published. It returns the number of items accepted.
func (s *Scheduler) ingest(ctx context.Context, source config.Source, entries []feeds.Entry) int {
	var (
		newest   models.Item
		accepted int
	)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		item, err := s.normalizer.Normalize(entry, source.Name)
		if err != nil {
			malformedEntries.Inc()
			log.WithFields(log.Fields{
				"source": source.Name,
				"error":  err,
			}).Debug("Skipping malformed entry")
			continue
		}

		if s.buffer.Contains(item.ID) {
			continue
		}

		seen, err := s.store.Exists(ctx, item.ID)
		if err != nil {
			s.storeFailed("exists", err)
		} else {
			s.storeRecovered()
			if seen {
				continue
			}
		}

		if err := s.store.Put(ctx, item, s.config.TTL); err != nil {
			s.storeFailed("put", err)
		}

		s.ingestMu.Lock()
		if s.buffer.Contains(item.ID) {
			s.ingestMu.Unlock()
			continue
		}
		kept := s.buffer.Insert(item)
		s.ingestMu.Unlock()

		if !kept {
			continue
		}

		accepted++
		itemsAccepted.Inc()
		if accepted == 1 || item.Timestamp.After(newest.Timestamp) {
			newest = item
		}
	}

	bufferSize.Set(float64(s.buffer.Len()))

	if accepted > 0 && s.publisher != nil && s.buffer.Contains(newest.ID) {
		s.publisher.Publish(newest)
	}
	s.markReady()

	return accepted
}

func (s *Scheduler) markReady() {
	if s.buffer.Ready() && s.ready.CompareAndSwap(false, true) {
		log.WithField("items", s.buffer.Len()).Info("Service ready")
	}
}

func (s *Scheduler) storeFailed(op string, err error) {
	storeErrors.WithLabelValues(op).Inc()
	if !store.IsUnavailable(err) {
		log.WithFields(log.Fields{
			"op":    op,
			"error": err,
		}).Error("Store operation failed")
		return
	}
	if s.degraded.CompareAndSwap(false, true) {
		log.WithFields(log.Fields{
			"op":    op,
			"error": err,
		}).Warn("Store unavailable, deduplicating against the buffer only")
	}
}

func (s *Scheduler) storeRecovered() {
	if s.degraded.CompareAndSwap(true, false) {
		log.Info("Store available again")
	}
}

// Degraded reports whether the last store call failed
func (s *Scheduler) Degraded() bool {
	return s.degraded.Load()
}

// Snapshot returns the buffer contents with their readiness status
func (s *Scheduler) Snapshot() models.Snapshot {
	items := s.buffer.Items()
	snapshot := models.Snapshot{
		Articles: items,
		Required: s.buffer.Capacity(),
		Current:  len(items),
	}

	switch {
	case snapshot.Current >= snapshot.Required:
		snapshot.Status = models.StatusReady
	case snapshot.Current == 0:
		snapshot.Status = models.StatusInitializing
		snapshot.Message = "Service is initializing, please wait"
	default:
		snapshot.Status = models.StatusPartial
		snapshot.Message = fmt.Sprintf("Collected %d of %d articles", snapshot.Current, snapshot.Required)
	}
	return snapshot
}

// Sources returns the polling status of every source
func (s *Scheduler) Sources() []models.SourceStatus {
	return lo.Map(s.trackers, func(t *Tracker, _ int) models.SourceStatus {
		return t.Status()
	})
}

// Trackers returns the per-source state machines
func (s *Scheduler) Trackers() []*Tracker {
	return s.trackers
}

// Clear empties the store and the buffer and starts a new fill phase. The
// buffer is reset even when the store cannot be cleared.
func (s *Scheduler) Clear(ctx context.Context) error {
	err := s.store.Clear(ctx)
	if err != nil {
		s.storeFailed("clear", err)
	}

	s.ingestMu.Lock()
	s.buffer.Reset()
	s.ingestMu.Unlock()

	s.ready.Store(false)
	bufferSize.Set(0)

	select {
	case s.refill <- struct{}{}:
	default:
	}

	log.Info("Cleared buffer")
	return err
}

func (s *Scheduler) tier(tier models.Tier) []*Tracker {
	return lo.Filter(s.trackers, func(t *Tracker, _ int) bool {
		return t.Source.Tier == tier
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
