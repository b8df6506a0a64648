package pipehttp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// SinkState is the lifecycle state of a ResponseSink.
type SinkState int32

const (
	// SinkPending means no byte was written yet.
	SinkPending SinkState = iota
	// SinkWritable means bytes are available and the sink is still open.
	SinkWritable
	// SinkClosed means the handler finished the response normally.
	SinkClosed
	// SinkErrored means the response was aborted; the bytes already on the
	// wire form a truncated response.
	SinkErrored
)

var sinkStateNames = [...]string{"pending", "writable", "closed", "errored"}

func (s SinkState) String() string {
	if int(s) < len(sinkStateNames) {
		return sinkStateNames[s]
	}
	return "unknown"
}

func (s SinkState) terminal() bool { return s >= SinkClosed }

var errSinkAbandoned = errors.New("pipehttp: response abandoned by connection")

// ResponseSink collects the bytes of one response until the connection's
// writer copies them to the socket.
//
// A sink has exactly one producer, the request's handler, and one consumer,
// the writer loop. Writes block once SinkBufferSize bytes are waiting to be
// sent, which is how a slow client throttles a fast handler.
type ResponseSink struct {
	mu      sync.Mutex
	buf     *bytebufferpool.ByteBuffer
	limit   int
	state   SinkState
	err     error
	written int64

	// closed on the first write or on close, whichever comes first.
	ready     chan struct{}
	readyOnce sync.Once
	// readable wakes the writer loop, writable wakes a blocked Write.
	readable chan struct{}
	writable chan struct{}

	// connection scope; writes fail once it is done.
	ctx context.Context
}

func newResponseSink(ctx context.Context, limit int) *ResponseSink {
	return &ResponseSink{
		buf:      bytebufferpool.Get(),
		limit:    limit,
		ready:    make(chan struct{}),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		ctx:      ctx,
	}
}

// newStaticSink returns an already closed sink holding resp.
func newStaticSink(ctx context.Context, resp string) *ResponseSink {
	s := newResponseSink(ctx, len(resp))
	s.buf.B = append(s.buf.B, resp...)
	s.state = SinkClosed
	s.written = int64(len(resp))
	s.markReady()
	return s
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *ResponseSink) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Write appends p to the response. It blocks while the buffer is full.
func (s *ResponseSink) Write(p []byte) (n int, err error) {
	for len(p) > 0 {
		s.mu.Lock()
		if s.state.terminal() {
			s.mu.Unlock()
			return n, ErrSinkClosed
		}
		if room := s.limit - len(s.buf.B); room > 0 {
			if room > len(p) {
				room = len(p)
			}
			s.buf.B = append(s.buf.B, p[:room]...)
			s.written += int64(room)
			s.state = SinkWritable
			s.mu.Unlock()
			p = p[room:]
			n += room
			s.markReady()
			notify(s.readable)
			continue
		}
		s.mu.Unlock()
		select {
		case <-s.writable:
		case <-s.ctx.Done():
			return n, errors.WithMessage(context.Cause(s.ctx), "pipehttp: response write aborted")
		}
	}
	return
}

func (s *ResponseSink) WriteString(str string) (int, error) {
	return s.Write(s2b(str))
}

// Close finishes the response normally.
func (s *ResponseSink) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError finishes the response. A non-nil err marks it Errored,
// meaning the client receives whatever was written so far.
// Closing an already closed sink is a no-op.
func (s *ResponseSink) CloseWithError(err error) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	if err == nil {
		s.state = SinkClosed
	} else {
		s.state = SinkErrored
		s.err = err
	}
	s.mu.Unlock()
	s.markReady()
	notify(s.readable)
	notify(s.writable)
	return nil
}

func (s *ResponseSink) State() SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the cause the sink was closed with, if any.
func (s *ResponseSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of bytes accepted by Write so far.
func (s *ResponseSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// swap hands the buffered bytes to the writer loop and keeps spare as the new
// fill buffer. filled is nil when nothing was buffered. finished reports that
// the sink is terminal and fully handed out.
func (s *ResponseSink) swap(spare *bytebufferpool.ByteBuffer) (filled *bytebufferpool.ByteBuffer, finished bool) {
	s.mu.Lock()
	if s.buf != nil && len(s.buf.B) > 0 {
		filled = s.buf
		spare.Reset()
		s.buf = spare
	}
	finished = s.state.terminal()
	s.mu.Unlock()
	if filled != nil {
		notify(s.writable)
	}
	return
}

// release returns the buffer to the pool. A sink still open at that point is
// marked Errored so later writes by its handler fail fast.
func (s *ResponseSink) release() {
	s.mu.Lock()
	if !s.state.terminal() {
		s.state = SinkErrored
		s.err = errSinkAbandoned
	}
	if s.buf != nil {
		bytebufferpool.Put(s.buf)
		s.buf = nil
	}
	s.mu.Unlock()
	s.markReady()
	notify(s.writable)
}
