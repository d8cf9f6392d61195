package queue

import (
	"context"
	"sync"
)

// Conn is a lazily dialed connection handle owned by one backend. The first Get dials; later
// calls reuse the handle until Reset.
type Conn[T any] struct {
	dial  func(ctx context.Context) (T, error)
	close func(T) error

	mu     sync.Mutex
	handle T
	open   bool
}

// NewConn creates an undialed connection.
func NewConn[T any](dial func(ctx context.Context) (T, error), closeFn func(T) error) *Conn[T] {
	return &Conn[T]{dial: dial, close: closeFn}
}

// Get returns the cached handle, dialing first if needed. Dial failures are ErrQueueUnavailable.
func (c *Conn[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return c.handle, nil
	}

	handle, err := c.dial(ctx)
	if err != nil {
		var zero T

		return zero, Unavailable(err)
	}

	c.handle = handle
	c.open = true

	return handle, nil
}

// Reset closes and forgets the cached handle.
func (c *Conn[T]) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	handle := c.handle

	var zero T

	c.handle = zero
	c.open = false

	if c.close == nil {
		return nil
	}

	return c.close(handle)
}

// Close is Reset; the connection may be dialed again afterwards.
func (c *Conn[T]) Close() error {
	return c.Reset()
}
