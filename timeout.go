package pipehttp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultIdleTimeout is the idle timeout used when Server.IdleTimeout is zero.
const DefaultIdleTimeout = 45 * time.Second

// Timeouter bounds the writer loop's wait for the next ready response.
//
// WithTimeout runs op with a context that is cancelled once the timeout
// elapses and returns ErrIdleTimeout in that case. Otherwise it returns what
// op returned.
type Timeouter interface {
	WithTimeout(ctx context.Context, op func(ctx context.Context) error) error
}

// TimeouterFunc adapts a function to Timeouter.
type TimeouterFunc func(ctx context.Context, op func(ctx context.Context) error) error

func (f TimeouterFunc) WithTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	return f(ctx, op)
}

// idleTimeouter is the per connection Timeouter. The deadline moves forward
// whenever the connection reads or writes, so a client that keeps sending
// requests is never cut off while it waits for a slow response.
type idleTimeouter struct {
	timeout time.Duration
	// absolute nanoseconds of the last read or write.
	lastActive atomic.Int64
}

func newIdleTimeouter(timeout time.Duration) *idleTimeouter {
	t := &idleTimeouter{timeout: timeout}
	t.touch()
	return t
}

func (t *idleTimeouter) touch() {
	t.lastActive.Store(absoluteNano())
}

func (t *idleTimeouter) idle() time.Duration {
	return time.Duration(absoluteNano() - t.lastActive.Load())
}

func (t *idleTimeouter) WithTimeout(ctx context.Context, op func(ctx context.Context) error) error {
	if t.timeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	// the wait itself starts an idle period.
	t.touch()
	done := make(chan struct{})
	defer close(done)
	go func() {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		for {
			select {
			case <-done:
				return
			case <-timer.C:
				if idle := t.idle(); idle < t.timeout {
					timer.Reset(t.timeout - idle)
					continue
				}
				cancel(ErrIdleTimeout)
				return
			}
		}
	}()
	err := op(ctx)
	if err != nil && errors.Is(context.Cause(ctx), ErrIdleTimeout) {
		return ErrIdleTimeout
	}
	return err
}

// trackedConn reports every successful read or write to its timeouter.
type trackedConn struct {
	net.Conn
	t *idleTimeouter
}

func (c *trackedConn) Read(p []byte) (n int, err error) {
	n, err = c.Conn.Read(p)
	if n > 0 {
		c.t.touch()
	}
	return
}

func (c *trackedConn) Write(p []byte) (n int, err error) {
	n, err = c.Conn.Write(p)
	if n > 0 {
		c.t.touch()
	}
	return
}
