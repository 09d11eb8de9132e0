// Package buffer holds the bounded, newest-first working set of items
package buffer

import (
	"sort"
	"sync"

	"feedcast/models"
)

// Buffer keeps at most capacity items sorted by timestamp, newest first.
// It assumes every inserted item has a unique ID.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	items    []models.Item
	index    map[string]struct{}
}

// New creates an empty buffer holding up to capacity items
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
		items:    make([]models.Item, 0, capacity+1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

// Insert adds item at its sorted position and drops the oldest items beyond
// capacity. It returns false if the item itself was dropped.
func (b *Buffer) Insert(item models.Item) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insert(item)
}

func (b *Buffer) insert(item models.Item) bool {
	// Equal timestamps go after the items already present
	pos := sort.Search(len(b.items), func(i int) bool {
		return b.items[i].Timestamp.Before(item.Timestamp)
	})

	b.items = append(b.items, models.Item{})
	copy(b.items[pos+1:], b.items[pos:])
	b.items[pos] = item
	b.index[item.ID] = struct{}{}

	survived := true
	for len(b.items) > b.capacity {
		last := len(b.items) - 1
		if last == pos {
			survived = false
		}
		delete(b.index, b.items[last].ID)
		b.items[last] = models.Item{}
		b.items = b.items[:last]
	}
	return survived
}

// Load replaces the contents with items, keeping the newest capacity items
func (b *Buffer) Load(items []models.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make([]models.Item, 0, b.capacity+1)
	b.index = make(map[string]struct{}, b.capacity+1)
	for _, item := range items {
		if _, ok := b.index[item.ID]; ok {
			continue
		}
		b.insert(item)
	}
}

// Reset empties the buffer
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make([]models.Item, 0, b.capacity+1)
	b.index = make(map[string]struct{}, b.capacity+1)
}

// Items returns a copy of all items, newest first
func (b *Buffer) Items() []models.Item {
	return b.TopN(-1)
}

// TopN returns a copy of the n newest items. A negative n returns all.
func (b *Buffer) TopN(n int) []models.Item {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > len(b.items) {
		n = len(b.items)
	}
	out := make([]models.Item, n)
	copy(out, b.items[:n])
	return out
}

func (b *Buffer) Contains(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// Ready reports whether the buffer has reached its capacity
func (b *Buffer) Ready() bool {
	return b.Len() >= b.capacity
}
