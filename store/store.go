// Package store is the dedup and recency cache behind the poller
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedcast/models"
)

// DefaultTTL is how long an item stays known after its last write
const DefaultTTL = 24 * time.Hour

// ErrUnavailable matches every error caused by an unreachable backend
var ErrUnavailable = errors.New("store unavailable")

// Store answers "have we seen this item" and "which items are newest".
// Implementations are safe for concurrent use.
type Store interface {
	// Exists reports whether an unexpired record with id is present
	Exists(ctx context.Context, id string) (bool, error)
	// Put upserts item and refreshes its expiration and recency ranking
	Put(ctx context.Context, item models.Item, ttl time.Duration) error
	// Recent returns up to limit unexpired items, newest timestamp first
	Recent(ctx context.Context, limit int) ([]models.Item, error)
	// Clear removes every item and ranking
	Clear(ctx context.Context) error
	Close() error
}

// UnavailableError wraps a backend failure of operation Op
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Unavailable wraps err for op, or returns nil
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err came from an unreachable backend
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
