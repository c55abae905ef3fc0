package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsAllHandlers(t *testing.T) {
	m := NewManager()
	var n atomic.Int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context) { n.Add(1) })
	}
	m.OnShutdown(nil)

	assert.True(t, m.Shutdown(context.Background()))
	assert.EqualValues(t, 3, n.Load())

	// handlers run once
	assert.True(t, m.Shutdown(context.Background()))
	assert.EqualValues(t, 3, n.Load())
}

func TestShutdownDeadline(t *testing.T) {
	m := NewManager()
	block := make(chan struct{})
	defer close(block)
	m.OnShutdown(func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, m.Shutdown(ctx))
}
