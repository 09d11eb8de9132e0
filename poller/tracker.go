package poller

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"feedcast/config"
	"feedcast/models"
)

// State is the polling state of a single source
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker holds the state machine and backoff of one source.
//
//	Idle -> Fetching -> Success
//	                 -> Failed -> Fetching ...
//
// Delay is the wait the next failure will cause. It starts at the initial
// retry delay, doubles on every consecutive failure up to the maximum and
// resets on success.
type Tracker struct {
	Source config.Source

	// held while a pass polls the source, so overlapping passes skip it
	polling sync.Mutex

	mu          sync.Mutex
	state       State
	backoff     *backoff.ExponentialBackOff
	initial     time.Duration
	max         time.Duration
	delay       time.Duration
	failures    int
	capped      int
	lastSuccess time.Time
	lastErr     error
}

// NewTracker creates an idle tracker for source
func NewTracker(source config.Source, initial, maxDelay time.Duration) *Tracker {
	if initial <= 0 {
		initial = DefaultInitialRetryDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // Never stop retrying
	b.Reset()

	return &Tracker{
		Source:  source,
		state:   StateIdle,
		backoff: b,
		initial: initial,
		max:     maxDelay,
		delay:   initial,
	}
}

func (t *Tracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateFetching
}

func (t *Tracker) succeed(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateSuccess
	t.backoff.Reset()
	t.delay = t.initial
	t.failures = 0
	t.capped = 0
	t.lastSuccess = now
	t.lastErr = nil
}

// fail records a failed fetch and returns how long to wait before retrying
func (t *Tracker) fail(err error) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateFailed
	t.failures++
	t.lastErr = err

	wait := t.backoff.NextBackOff()
	if wait >= t.max {
		wait = t.max
		t.capped++
	}
	t.delay = min(wait*2, t.max)
	return wait
}

// cancel returns an interrupted fetch to idle
func (t *Tracker) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateFetching {
		t.state = StateIdle
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func (t *Tracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// CapHits is the number of consecutive failures that waited the maximum delay
func (t *Tracker) CapHits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capped
}

func (t *Tracker) Status() models.SourceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := models.SourceStatus{
		Name:     t.Source.Name,
		URL:      t.Source.URL,
		Tier:     t.Source.Tier,
		State:    t.state.String(),
		Delay:    t.delay.String(),
		Failures: t.failures,
	}
	if !t.lastSuccess.IsZero() {
		last := t.lastSuccess
		status.LastSuccess = &last
	}
	if t.lastErr != nil {
		status.LastError = t.lastErr.Error()
	}
	return status
}
