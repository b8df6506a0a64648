package pipehttp

import (
	"errors"
	"io"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
	"github.com/xyproto/randomstring"
)

func TestRequestBodyFixed(t *testing.T) {
	t.Parallel()
	r := newTestReader("helloGET / HTTP/1.1\r\n\r\n", 4096)
	b := newRequestBody(r, Framing{Kind: BodyFixed, ContentLength: 5}, 0)
	data, err := io.ReadAll(b)
	assert.NoErr(t, err)
	assert.Eq(t, "hello", string(data))
	assert.Eq(t, int64(5), b.Total())
	// sticky EOF
	n, err := b.Read(make([]byte, 8))
	assert.Eq(t, 0, n)
	assert.Eq(t, io.EOF, err)

	assert.NoErr(t, b.Close())
	assert.NoErr(t, b.discardRest())
	h, err := readRequestHead(r, 8192)
	assert.NoErr(t, err)
	assert.Eq(t, "GET", h.Method())
}

func TestRequestBodyFixedTruncated(t *testing.T) {
	t.Parallel()
	r := newTestReader("abc", 4096)
	b := newRequestBody(r, Framing{Kind: BodyFixed, ContentLength: 5}, 0)
	_, err := io.ReadAll(b)
	assert.True(t, errors.Is(err, ErrUnexpectedReqBodyEOF))
	assert.NoErr(t, b.Close())
	// the connection can't be realigned.
	assert.True(t, errors.Is(b.discardRest(), ErrUnexpectedReqBodyEOF))
}

func TestRequestBodyChunked(t *testing.T) {
	t.Parallel()
	body := "4;ext=1\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\nX-Trailer: v\r\n\r\nNEXT"
	r := newTestReader(body, 4096)
	b := newRequestBody(r, Framing{Kind: BodyChunked, ContentLength: -1}, 0)
	data, err := io.ReadAll(b)
	assert.NoErr(t, err)
	assert.Eq(t, "Wikipedia in\r\n\r\nchunks.", string(data))
	rest, _ := io.ReadAll(r)
	assert.Eq(t, "NEXT", string(rest))
}

func TestRequestBodyChunkedErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		max  int64
		want func(error) bool
	}{
		{"bad size", "zz\r\n", 0, isBrokenChunk},
		{"missing crlf", "3\r\nabcX\r\n0\r\n\r\n", 0, isBrokenChunk},
		{"truncated", "10\r\nabc", 0, func(err error) bool { return errors.Is(err, ErrUnexpectedReqBodyEOF) }},
		{"too large", "4\r\nabcd\r\n4\r\nabcd\r\n0\r\n\r\n", 6, func(err error) bool { return errors.Is(err, ErrBodyTooLarge) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newRequestBody(newTestReader(tt.body, 4096), Framing{Kind: BodyChunked, ContentLength: -1}, tt.max)
			_, err := io.ReadAll(b)
			assert.True(t, tt.want(err))
		})
	}
}

func isBrokenChunk(err error) bool {
	var bc ErrBrokenChunk
	return errors.As(err, &bc)
}

func TestRequestBodyDiscardRest(t *testing.T) {
	t.Parallel()
	payload := randomstring.HumanFriendlyString(3 * drainChunkSize)
	r := newTestReader(payload+"POST", 4096)
	b := newRequestBody(r, Framing{Kind: BodyFixed, ContentLength: int64(len(payload))}, 0)
	p := make([]byte, 10)
	_, err := io.ReadFull(b, p)
	assert.NoErr(t, err)
	assert.Eq(t, payload[:10], string(p))
	assert.NoErr(t, b.Close())

	_, err = b.Read(p)
	assert.Eq(t, ErrBodyClosed, err)
	select {
	case <-b.released:
	default:
		t.Fatal("body not released")
	}
	assert.NoErr(t, b.discardRest())
	rest, _ := io.ReadAll(r)
	assert.Eq(t, "POST", string(rest))
}

func TestRequestBodyBeforeRead(t *testing.T) {
	t.Parallel()
	calls := 0
	b := newRequestBody(newTestReader("abcdef", 4096), Framing{Kind: BodyFixed, ContentLength: 6}, 0)
	b.beforeRead = func() error {
		calls++
		return nil
	}
	p := make([]byte, 3)
	_, _ = b.Read(p)
	_, _ = b.Read(p)
	assert.Eq(t, 1, calls)

	// a client waiting for 100 Continue never sends the body.
	b = newRequestBody(newTestReader("", 4096), Framing{Kind: BodyFixed, ContentLength: 6}, 0)
	b.beforeRead = func() error { return nil }
	assert.NoErr(t, b.Close())
	assert.Eq(t, errContinueNotSent, b.discardRest())
}

func TestRequestBodySkipContinue(t *testing.T) {
	t.Parallel()
	b := newRequestBody(newTestReader("", 4096), Framing{Kind: BodyFixed, ContentLength: 6}, 0)
	b.beforeRead = func() error { return nil }
	assert.True(t, b.skipContinue())
	// only the first call gives the body up.
	assert.False(t, b.skipContinue())
	_, err := b.Read(make([]byte, 6))
	assert.Eq(t, errContinueNotSent, err)
	assert.NoErr(t, b.Close())
	assert.Eq(t, errContinueNotSent, b.discardRest())

	// once requested, the body is read as usual.
	b = newRequestBody(newTestReader("abcdef", 4096), Framing{Kind: BodyFixed, ContentLength: 6}, 0)
	b.beforeRead = func() error { return nil }
	_, err = b.Read(make([]byte, 2))
	assert.NoErr(t, err)
	assert.False(t, b.skipContinue())
}

func TestRequestBodyNone(t *testing.T) {
	t.Parallel()
	b := newRequestBody(newTestReader("GET", 4096), Framing{Kind: BodyNone}, 0)
	n, err := b.Read(make([]byte, 4))
	assert.Eq(t, 0, n)
	assert.Eq(t, io.EOF, err)
	assert.NoErr(t, b.discardRest())
}
