package pipehttp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/valyala/fasthttp/fasthttputil"
)

func waitForever(ctx context.Context) error {
	<-ctx.Done()
	return context.Cause(ctx)
}

func TestIdleTimeouterFires(t *testing.T) {
	t.Parallel()
	it := newIdleTimeouter(30 * time.Millisecond)
	start := time.Now()
	err := it.WithTimeout(context.Background(), waitForever)
	assert.Eq(t, ErrIdleTimeout, err)
	assert.True(t, time.Since(start) >= 30*time.Millisecond)
}

func TestIdleTimeouterExtendedByActivity(t *testing.T) {
	t.Parallel()
	it := newIdleTimeouter(60 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		tk := time.NewTicker(10 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				it.touch()
			}
		}
	}()
	err := it.WithTimeout(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	})
	close(stop)
	assert.NoErr(t, err)
}

func TestIdleTimeouterPassesResult(t *testing.T) {
	t.Parallel()
	it := newIdleTimeouter(time.Second)
	want := errors.New("op failed")
	assert.Eq(t, want, it.WithTimeout(context.Background(), func(context.Context) error { return want }))

	// cancellation of the parent is not a timeout.
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("parent gone")
	cancel(cause)
	assert.Eq(t, cause, it.WithTimeout(ctx, waitForever))
}

func TestIdleTimeouterDisabled(t *testing.T) {
	t.Parallel()
	it := newIdleTimeouter(-1)
	err := it.WithTimeout(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Millisecond):
			return nil
		}
	})
	assert.NoErr(t, err)
}

func TestTrackedConnTouches(t *testing.T) {
	t.Parallel()
	pc := fasthttputil.NewPipeConns()
	defer pc.Close()
	it := newIdleTimeouter(time.Second)
	it.lastActive.Store(0)
	tc := &trackedConn{Conn: pc.Conn1(), t: it}
	go func() { _, _ = pc.Conn2().Write([]byte("x")) }()
	buf := make([]byte, 1)
	_, err := tc.Read(buf)
	assert.NoErr(t, err)
	assert.True(t, it.lastActive.Load() > 0)
}

func TestTimeouterFunc(t *testing.T) {
	t.Parallel()
	calls := 0
	tf := TimeouterFunc(func(ctx context.Context, op func(ctx context.Context) error) error {
		calls++
		return op(ctx)
	})
	assert.NoErr(t, tf.WithTimeout(context.Background(), func(context.Context) error { return nil }))
	assert.Eq(t, 1, calls)
}
