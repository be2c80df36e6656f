package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/observe"
)

var (
	// ErrChannelClosed is returned by Pop once the channel is closed and
	// drained, and by Push after Close.
	ErrChannelClosed = errors.New("pipeline: channel closed")

	// ErrPopTimeout is returned by Pop when no chunk arrived in time.
	ErrPopTimeout = errors.New("pipeline: no chunk within timeout")

	// ErrBackpressure is returned by Push when a push timeout is configured
	// and the channel stayed full for that long.
	ErrBackpressure = errors.New("pipeline: channel full")
)

// Channel is the bounded FIFO between capture and processing. It has a
// single producer, which is also the only caller of Close.
type Channel struct {
	ch          chan audio.Chunk
	pushTimeout time.Duration
	metrics     *observe.Metrics

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewChannel creates a channel holding up to size chunks. With pushTimeout
// zero, Push blocks until there is room.
func NewChannel(size int, pushTimeout time.Duration, metrics *observe.Metrics) *Channel {
	return &Channel{
		ch:          make(chan audio.Chunk, size),
		pushTimeout: pushTimeout,
		metrics:     metrics,
	}
}

// Push enqueues c, blocking while the channel is full.
func (c *Channel) Push(chunk audio.Chunk) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	if c.pushTimeout <= 0 {
		c.ch <- chunk
	} else {
		timer := time.NewTimer(c.pushTimeout)
		defer timer.Stop()
		select {
		case c.ch <- chunk:
		case <-timer.C:
			return ErrBackpressure
		}
	}

	c.metrics.QueueDepth.Add(context.Background(), 1)
	return nil
}

// Pop dequeues the oldest chunk, waiting at most timeout. Chunks still
// queued when the channel is closed are returned before ErrChannelClosed.
func (c *Channel) Pop(timeout time.Duration) (audio.Chunk, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-c.ch:
		if !ok {
			return audio.Chunk{}, ErrChannelClosed
		}
		c.metrics.QueueDepth.Add(context.Background(), -1)
		return chunk, nil
	case <-timer.C:
		return audio.Chunk{}, ErrPopTimeout
	}
}

// Close marks the end of production. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
}

// Len returns the number of queued chunks.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Cap returns the channel capacity.
func (c *Channel) Cap() int {
	return cap(c.ch)
}
