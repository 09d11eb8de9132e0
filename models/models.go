package models

import "time"

// Category is a single category term attached to an item
type Category struct {
	Term string `json:"term"`
}

// Item is the canonical article record produced from a feed entry
type Item struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Content              string     `json:"content"`
	Source               string     `json:"source"`
	URL                  string     `json:"url"`
	ImageURL             string     `json:"imageUrl"`
	Categories           []Category `json:"categories"`
	Timestamp            time.Time  `json:"timestamp"`
	TimestampSynthesized bool       `json:"timestampSynthesized,omitempty"`
}

// Status describes how full the buffer is
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusPartial      Status = "partial"
	StatusReady        Status = "ready"
)

// BufferStatus is attached to every streamed event
type BufferStatus struct {
	Required int `json:"required"`
	Current  int `json:"current"`
}

// Snapshot is the current buffer as served to clients
type Snapshot struct {
	Articles []Item `json:"articles"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Required int    `json:"required"`
	Current  int    `json:"current"`
}

// Event types sent to subscribers
const (
	EventSnapshot = "snapshot"
	EventArticles = "articles"
	EventShutdown = "shutdown"
)

// Event is a single message in a subscriber queue
type Event struct {
	Type         string        `json:"type"`
	Articles     []Item        `json:"articles,omitempty"`
	Status       Status        `json:"status,omitempty"`
	Message      string        `json:"message,omitempty"`
	BufferStatus *BufferStatus `json:"buffer_status,omitempty"`
}

// Tier is the polling frequency class of a source
type Tier string

const (
	TierStandard   Tier = "standard"
	TierRestricted Tier = "restricted"
)

// SourceStatus is the observable polling state of one source
type SourceStatus struct {
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Tier        Tier       `json:"tier"`
	State       string     `json:"state"`
	Delay       string     `json:"delay"`
	Failures    int        `json:"failures"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Export is the write-once record produced for offline analysis
type Export struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalCount int       `json:"total_count"`
	Items      []Item    `json:"items"`
}
