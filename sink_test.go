package pipehttp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/valyala/bytebufferpool"
)

// drainSink collects everything written to s until it is finished.
func drainSink(t *testing.T, s *ResponseSink) string {
	t.Helper()
	var out []byte
	spare := bytebufferpool.Get()
	for {
		filled, finished := s.swap(spare)
		if filled != nil {
			out = append(out, filled.B...)
			spare = filled
		}
		if finished {
			return string(out)
		}
		if filled == nil {
			select {
			case <-s.readable:
			case <-time.After(5 * time.Second):
				t.Fatal("sink never became readable")
			}
		}
	}
}

func TestResponseSinkStates(t *testing.T) {
	t.Parallel()
	s := newResponseSink(context.Background(), 1024)
	assert.Eq(t, SinkPending, s.State())
	select {
	case <-s.ready:
		t.Fatal("pending sink must not be ready")
	default:
	}
	_, err := s.WriteString("abc")
	assert.NoErr(t, err)
	assert.Eq(t, SinkWritable, s.State())
	<-s.ready
	assert.NoErr(t, s.Close())
	assert.Eq(t, SinkClosed, s.State())
	assert.Eq(t, "abc", drainSink(t, s))

	_, err = s.WriteString("x")
	assert.Eq(t, ErrSinkClosed, err)
	// closing twice is fine.
	assert.NoErr(t, s.CloseWithError(errors.New("late")))
	assert.Nil(t, s.Err())
	s.release()
}

func TestResponseSinkCloseWithError(t *testing.T) {
	t.Parallel()
	s := newResponseSink(context.Background(), 1024)
	cause := errors.New("boom")
	assert.NoErr(t, s.CloseWithError(cause))
	<-s.ready
	assert.Eq(t, SinkErrored, s.State())
	assert.Eq(t, cause, s.Err())
	assert.Eq(t, "", drainSink(t, s))
	assert.Eq(t, "errored", s.State().String())
}

func TestResponseSinkBackpressure(t *testing.T) {
	t.Parallel()
	s := newResponseSink(context.Background(), 4)
	payload := "0123456789abcdef"
	writeDone := make(chan error, 1)
	go func() {
		_, err := s.WriteString(payload)
		if err == nil {
			err = s.Close()
		}
		writeDone <- err
	}()
	select {
	case <-writeDone:
		t.Fatal("write must block while the buffer is full")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Eq(t, int64(4), s.Written())
	assert.Eq(t, payload, drainSink(t, s))
	assert.NoErr(t, <-writeDone)
}

func TestResponseSinkWriteAbortedByConnection(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancelCause(context.Background())
	s := newResponseSink(ctx, 2)
	writeDone := make(chan error, 1)
	go func() {
		_, err := s.WriteString("abcdef")
		writeDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cause := errors.New("conn gone")
	cancel(cause)
	err := <-writeDone
	assert.True(t, errors.Is(err, cause))
}

func TestResponseSinkRelease(t *testing.T) {
	t.Parallel()
	s := newResponseSink(context.Background(), 16)
	_, _ = s.WriteString("abc")
	s.release()
	assert.Eq(t, SinkErrored, s.State())
	_, err := s.WriteString("more")
	assert.Eq(t, ErrSinkClosed, err)
	filled, finished := s.swap(bytebufferpool.Get())
	assert.Nil(t, filled)
	assert.True(t, finished)
}

func TestStaticSink(t *testing.T) {
	t.Parallel()
	s := newStaticSink(context.Background(), badRequestResponse)
	assert.Eq(t, SinkClosed, s.State())
	assert.Eq(t, badRequestResponse, drainSink(t, s))
}
