package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTotalTimeout   = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 20 * time.Second

	// Responses shorter than this are not feeds
	DefaultMinContentLength = 100

	maxBodySize = 10 << 20

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrMalformedFeed is returned when a response cannot be used as a feed
var ErrMalformedFeed = errors.New("malformed feed")

// FetchError is a transport failure, timeout or non-200 response
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetcherConfig holds the HTTP settings of a fetcher
type FetcherConfig struct {
	TotalTimeout     time.Duration
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	UserAgent        string
	MinContentLength int
}

// HTTPFetcher downloads and parses RSS/Atom feeds
type HTTPFetcher struct {
	client           *http.Client
	userAgent        string
	minContentLength int
}

// NewHTTPFetcher creates a fetcher, filling zero config values with defaults
func NewHTTPFetcher(config FetcherConfig) *HTTPFetcher {
	if config.TotalTimeout <= 0 {
		config.TotalTimeout = DefaultTotalTimeout
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.MinContentLength == 0 {
		config.MinContentLength = DefaultMinContentLength
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ResponseHeaderTimeout: config.ReadTimeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   config.TotalTimeout,
			Transport: transport,
		},
		userAgent:        config.UserAgent,
		minContentLength: config.MinContentLength,
	}
}

// Fetch downloads the feed at url and returns its entries
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/html;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	if len(body) < f.minContentLength {
		log.WithFields(log.Fields{
			"url":    url,
			"length": len(body),
		}).Warn("Very short content from feed")
		return nil, fmt.Errorf("%w: %s returned %d bytes", ErrMalformedFeed, url, len(body))
	}

	return Parse(body)
}

// Parse parses a raw feed document. gofeed parsers keep state, so each call
// gets its own.
func Parse(body []byte) ([]Entry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, EntryFromItem(item))
	}
	return entries, nil
}
