package pipehttp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
)

func TestPipelineQueueOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newPipelineQueue(3)
	sinks := []*ResponseSink{
		newResponseSink(ctx, 64),
		newResponseSink(ctx, 64),
		newResponseSink(ctx, 64),
	}
	for _, s := range sinks {
		assert.NoErr(t, q.enqueue(ctx, s))
	}
	assert.Eq(t, 3, q.outstanding())
	// later sinks finish first.
	_ = sinks[2].Close()
	_ = sinks[1].Close()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = sinks[0].Close()
	}()
	for i := range sinks {
		s, err := q.dequeueNext(ctx)
		assert.NoErr(t, err)
		assert.True(t, s == sinks[i])
		q.release()
	}
	q.close()
	_, err := q.dequeueNext(ctx)
	assert.Eq(t, errPipelineClosed, err)
}

func TestPipelineQueueBackpressure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newPipelineQueue(2)
	assert.NoErr(t, q.enqueue(ctx, newStaticSink(ctx, "a")))
	assert.NoErr(t, q.enqueue(ctx, newStaticSink(ctx, "b")))

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- q.enqueue(ctx, newStaticSink(ctx, "c"))
	}()
	select {
	case <-enqueued:
		t.Fatal("third enqueue must wait for a free slot")
	case <-time.After(50 * time.Millisecond):
	}
	s, err := q.dequeueNext(ctx)
	assert.NoErr(t, err)
	// dequeue alone does not free the slot, writing the sink does.
	select {
	case <-enqueued:
		t.Fatal("slot freed before the sink was written")
	case <-time.After(20 * time.Millisecond):
	}
	s.release()
	q.release()
	assert.NoErr(t, <-enqueued)
}

func TestPipelineQueueCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancelCause(context.Background())
	q := newPipelineQueue(1)
	pending := newResponseSink(ctx, 16)
	assert.NoErr(t, q.enqueue(ctx, pending))
	cause := errors.New("stop")
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(cause)
	}()
	// the sink stays pending, so the wait ends with the cause.
	s, err := q.dequeueNext(ctx)
	assert.Eq(t, cause, err)
	assert.True(t, s == pending)
	assert.Eq(t, cause, q.enqueue(ctx, newStaticSink(ctx, "x")))
}
