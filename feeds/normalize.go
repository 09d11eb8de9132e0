package feeds

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/samber/lo"

	"feedcast/models"
)

// DefaultCategory is assigned to items whose entry has no tags
const DefaultCategory = "Cryptocurrency"

// ErrMalformedEntry is returned for entries without a usable title or link
var ErrMalformedEntry = errors.New("malformed entry")

// RFC 2822 style layouts tried after net/mail, for feeds that drop the
// weekday or the zone
var rfc2822Layouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 02 Jan 2006 15:04:05",
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer turns raw entries into items
type Normalizer struct {
	DefaultCategory string

	// Now is used for synthesized timestamps, time.Now when nil
	Now func() time.Time
}

// NewNormalizer creates a normalizer that falls back to defaultCategory
func NewNormalizer(defaultCategory string) *Normalizer {
	if strings.TrimSpace(defaultCategory) == "" {
		defaultCategory = DefaultCategory
	}
	return &Normalizer{DefaultCategory: defaultCategory}
}

// Normalize builds an item for entry published by source
func (n *Normalizer) Normalize(entry Entry, source string) (models.Item, error) {
	title := strings.TrimSpace(entry.Title)
	link := strings.TrimSpace(entry.Link)
	if title == "" || link == "" {
		return models.Item{}, fmt.Errorf("%w: title=%q link=%q", ErrMalformedEntry, title, link)
	}

	timestamp, synthesized := n.timestamp(entry)

	body := entry.Summary
	if strings.TrimSpace(body) == "" {
		body = entry.Content
	}

	return models.Item{
		ID:                   ItemID(link),
		Title:                title,
		Content:              CleanContent(body),
		Source:               source,
		URL:                  link,
		ImageURL:             ExtractImageURL(entry),
		Categories:           n.categories(entry),
		Timestamp:            timestamp,
		TimestampSynthesized: synthesized,
	}, nil
}

// ItemID derives the identity key of an item from its link
func ItemID(link string) string {
	h := sha256.Sum256([]byte(link))
	return fmt.Sprintf("%x", h[:16])
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// timestamp returns the first parseable date candidate. The second return
// value is true when no candidate parsed and the current time was used.
func (n *Normalizer) timestamp(entry Entry) (time.Time, bool) {
	for _, field := range entry.Dates {
		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}
		if t, err := ParseDate(value); err == nil {
			return t, false
		}
	}
	return n.now().UTC().Truncate(time.Second), true
}

func (n *Normalizer) categories(entry Entry) []models.Category {
	terms := lo.Uniq(lo.FilterMap(entry.Tags, func(tag string, _ int) (string, bool) {
		tag = strings.TrimSpace(tag)
		return tag, tag != ""
	}))

	if len(terms) == 0 {
		def := n.DefaultCategory
		if def == "" {
			def = DefaultCategory
		}
		terms = []string{def}
	}

	return lo.Map(terms, func(term string, _ int) models.Category {
		return models.Category{Term: term}
	})
}

// ParseDate parses value as an RFC 2822 date, then as ISO 8601. Values
// without a zone are taken as UTC.
func ParseDate(value string) (time.Time, error) {
	if t, err := mail.ParseDate(value); err == nil {
		return t, nil
	}
	for _, layout := range rfc2822Layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	iso := value
	if strings.HasSuffix(iso, "z") {
		iso = strings.TrimSuffix(iso, "z") + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}
