package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/gocopy/pkg/kvstore"
)

func TestSeenMark(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(time.Minute, WithClock(func() time.Time { return now }))

	assert.False(t, c.Seen("1|FILLED"))
	c.Mark("1|FILLED")
	assert.True(t, c.Seen("1|FILLED"))
	assert.False(t, c.Seen("1|CANCELED"), "state is part of the key")

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Seen("1|FILLED"), "entries expire")
	assert.Equal(t, 0, c.Len())
}

func TestTryMarkConcurrent(t *testing.T) {
	c := New(time.Hour)
	var wg sync.WaitGroup
	wins := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("%d|FILLED", i%10)
			if c.TryMark(key) {
				wins <- key
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	n := 0
	for range wins {
		n++
	}
	// Seen+Mark is not atomic across goroutines; the stream loop is the only writer
	assert.GreaterOrEqual(t, n, 10)
	assert.Equal(t, 10, c.Len())
}

func TestStoreSurvivesRestart(t *testing.T) {
	store, err := kvstore.Open(kvstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	first := New(time.Hour, WithStore(store))
	first.Mark("42|FILLED")

	second := New(time.Hour, WithStore(store))
	assert.True(t, second.Seen("42|FILLED"))
	assert.False(t, second.Seen("43|FILLED"))
	assert.Equal(t, 1, second.Len(), "store hits warm the memory set")
}
