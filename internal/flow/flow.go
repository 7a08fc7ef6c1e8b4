// Package flow implements watermark accounting for a single connection.
// It performs no I/O: the connection reports byte movements and queries
// the controller for pause and resume decisions.
package flow

import (
	"context"
	"sync"

	"github.com/volant-web/volant/config"
)

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Controller tracks two counters: body bytes read off the socket but not
// yet consumed by the application, and response bytes queued but not yet
// flushed to the socket. The read side pauses at the high watermark and
// resumes only after falling to the low one, so a single excursion above
// the high mark produces exactly one pause and one resume signal.
//
// A controller belongs to exactly one connection and is shared only by
// that connection's read loop, write loop and request bridge.
type Controller struct {
	mu sync.Mutex

	readHigh, readLow int
	writeHigh         int

	unconsumed int
	unflushed  int

	paused   bool
	resume   chan struct{}
	writable chan struct{}
}

func New(cfg config.Flow) *Controller {
	return &Controller{
		readHigh:  cfg.ReadHighWatermark,
		readLow:   cfg.ReadLowWatermark,
		writeHigh: cfg.WriteHighWatermark,
	}
}

// OnBytesRead records n body bytes taken off the socket and queued for the
// application.
func (c *Controller) OnBytesRead(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unconsumed += n
	if !c.paused && c.unconsumed > c.readHigh {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// OnBytesConsumed records n body bytes handed over to the application.
func (c *Controller) OnBytesConsumed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unconsumed -= n
	if c.paused && c.unconsumed <= c.readLow {
		c.paused = false
		close(c.resume)
	}
}

// ShouldPauseReading is queried by the read loop before the next socket
// read.
func (c *Controller) ShouldPauseReading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paused
}

// Resumed returns a channel closed once reading may continue. If reading
// is not paused the returned channel is already closed.
func (c *Controller) Resumed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return closed
	}

	return c.resume
}

// OnBytesQueued records n response bytes queued for the socket.
func (c *Controller) OnBytesQueued(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unflushed += n
}

// OnBytesFlushed records n response bytes flushed to the socket, waking up
// senders blocked in AwaitWritable if the counter dropped enough.
func (c *Controller) OnBytesFlushed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unflushed -= n
	if c.writable != nil && c.unflushed <= c.writeHigh {
		close(c.writable)
		c.writable = nil
	}
}

// AwaitWritable blocks the caller until the unflushed counter is at or
// below the write high watermark, providing backpressure on the
// application when the socket is the bottleneck.
func (c *Controller) AwaitWritable(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.unflushed <= c.writeHigh {
			c.mu.Unlock()
			return nil
		}

		if c.writable == nil {
			c.writable = make(chan struct{})
		}
		writable := c.writable
		c.mu.Unlock()

		select {
		case <-writable:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadPending returns the number of read-side bytes awaiting consumption.
func (c *Controller) ReadPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unconsumed
}

// WritePending returns the number of write-side bytes awaiting flush.
func (c *Controller) WritePending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unflushed
}
