package pipehttp

import (
	"context"
	"sync"
)

// DefaultPipelineCapacity is the number of responses that may be outstanding
// on one connection before parsing of further requests stalls.
const DefaultPipelineCapacity = 3

// pipelineQueue orders the response sinks of one connection.
//
// A sink holds one of the N slots from enqueue until the writer loop has
// copied all of its bytes and calls release. Position in the queue is fixed
// at enqueue time, so responses leave in request order no matter which
// handler finishes first.
type pipelineQueue struct {
	slots     chan struct{}
	sinks     chan *ResponseSink
	closeOnce sync.Once
}

func newPipelineQueue(n int) *pipelineQueue {
	if n <= 0 {
		n = DefaultPipelineCapacity
	}
	return &pipelineQueue{
		slots: make(chan struct{}, n),
		sinks: make(chan *ResponseSink, n),
	}
}

// enqueue appends s, blocking while N sinks are outstanding.
// Only the connection's read loop enqueues.
func (q *pipelineQueue) enqueue(ctx context.Context, s *ResponseSink) error {
	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	// a slot is held, so this never blocks.
	q.sinks <- s
	return nil
}

// dequeueNext waits for the head sink to be enqueued and to leave the
// Pending state. errPipelineClosed is returned once close was called and
// every sink was handed out.
//
// The sink is returned even together with an error when it was already taken
// off the queue, so the caller can release it.
func (q *pipelineQueue) dequeueNext(ctx context.Context) (*ResponseSink, error) {
	var s *ResponseSink
	select {
	case s = <-q.sinks:
		if s == nil {
			return nil, errPipelineClosed
		}
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
	select {
	case <-s.ready:
		return s, nil
	case <-ctx.Done():
		return s, context.Cause(ctx)
	}
}

// release frees the slot of a sink that was fully written.
func (q *pipelineQueue) release() {
	<-q.slots
}

// outstanding returns the number of sinks holding a slot.
func (q *pipelineQueue) outstanding() int {
	return len(q.slots)
}

// close marks the end of the queue. enqueue must not be called afterwards.
func (q *pipelineQueue) close() {
	q.closeOnce.Do(func() { close(q.sinks) })
}
