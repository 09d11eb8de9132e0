package buffer_test

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedcast/buffer"
	"feedcast/models"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func item(id int, offset time.Duration) models.Item {
	return models.Item{
		ID:        fmt.Sprintf("item-%d", id),
		Title:     fmt.Sprintf("Item %d", id),
		Timestamp: base.Add(offset),
	}
}

func ids(items []models.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func assertSorted(t *testing.T, items []models.Item) {
	t.Helper()
	assert.True(t, sort.SliceIsSorted(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	}), "items not sorted newest first: %v", ids(items))
}

func TestInsertKeepsOrder(t *testing.T) {
	b := buffer.New(5)

	assert.True(t, b.Insert(item(1, 1*time.Minute)))
	assert.True(t, b.Insert(item(2, 3*time.Minute)))
	assert.True(t, b.Insert(item(3, 2*time.Minute)))

	assert.Equal(t, []string{"item-2", "item-3", "item-1"}, ids(b.Items()))
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.Ready())
}

func TestInsertEqualTimestampsKeepArrivalOrder(t *testing.T) {
	b := buffer.New(5)

	b.Insert(item(1, time.Minute))
	b.Insert(item(2, time.Minute))
	b.Insert(item(3, time.Minute))

	assert.Equal(t, []string{"item-1", "item-2", "item-3"}, ids(b.Items()))
}

func TestInsertTrimsOldest(t *testing.T) {
	b := buffer.New(3)

	for i := 1; i <= 3; i++ {
		require.True(t, b.Insert(item(i, time.Duration(i)*time.Minute)))
	}
	assert.True(t, b.Ready())

	// Newer than everything, pushes out item-1
	assert.True(t, b.Insert(item(4, 10*time.Minute)))
	assert.Equal(t, []string{"item-4", "item-3", "item-2"}, ids(b.Items()))
	assert.False(t, b.Contains("item-1"))

	// Older than everything, dropped right away
	assert.False(t, b.Insert(item(5, -time.Hour)))
	assert.Equal(t, []string{"item-4", "item-3", "item-2"}, ids(b.Items()))
	assert.False(t, b.Contains("item-5"))
	assert.Equal(t, 3, b.Len())
}

func TestCapacityFifteenWithTwentyItems(t *testing.T) {
	b := buffer.New(15)

	// Two cycles of ten distinct items with interleaved timestamps
	for cycle := 0; cycle < 2; cycle++ {
		for i := 0; i < 10; i++ {
			n := cycle*10 + i
			b.Insert(item(n, time.Duration((i*2+cycle)%20)*time.Minute))
		}
	}

	got := b.Items()
	require.Len(t, got, 15)
	assertSorted(t, got)
	assert.True(t, b.Ready())

	// Offsets 5..19 minutes survive, 0..4 are gone
	for _, it := range got {
		assert.False(t, it.Timestamp.Before(base.Add(5*time.Minute)), "unexpected %s", it.ID)
	}
}

func TestRandomSequencesStaySortedAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		capacity := rng.Intn(20) + 1
		b := buffer.New(capacity)

		var all []models.Item
		count := rng.Intn(60)
		for i := 0; i < count; i++ {
			it := item(i, time.Duration(rng.Intn(30))*time.Minute)
			all = append(all, it)
			b.Insert(it)

			got := b.Items()
			require.LessOrEqual(t, len(got), capacity)
			assertSorted(t, got)
		}

		// The kept timestamps are the newest ones seen
		sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
		got := b.Items()
		for i := range got {
			assert.True(t, all[i].Timestamp.Equal(got[i].Timestamp))
		}
	}
}

func TestTopN(t *testing.T) {
	b := buffer.New(10)
	for i := 1; i <= 4; i++ {
		b.Insert(item(i, time.Duration(i)*time.Minute))
	}

	assert.Equal(t, []string{"item-4", "item-3"}, ids(b.TopN(2)))
	assert.Len(t, b.TopN(100), 4)
	assert.Len(t, b.TopN(-1), 4)
	assert.Empty(t, b.TopN(0))

	// Returned slices are copies
	top := b.TopN(1)
	top[0].Title = "changed"
	assert.Equal(t, "Item 4", b.TopN(1)[0].Title)
}

func TestLoadAndReset(t *testing.T) {
	b := buffer.New(2)

	b.Load([]models.Item{item(1, time.Minute), item(2, 3*time.Minute), item(3, 2*time.Minute), item(2, 3*time.Minute)})
	assert.Equal(t, []string{"item-2", "item-3"}, ids(b.Items()))
	assert.True(t, b.Ready())

	b.Reset()
	assert.Zero(t, b.Len())
	assert.False(t, b.Contains("item-2"))
	assert.Equal(t, 2, b.Capacity())
}
