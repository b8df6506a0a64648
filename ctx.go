package pipehttp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// RequestHandler must process one request.
//
// The handler writes the response, status line and headers included, to
// ctx (or ctx.Sink()). The response is finished when the handler returns;
// it may also be finished earlier with ctx.Sink().Close(). A returned error
// or a panic aborts the response: if nothing was written yet, a 500 response
// is sent instead, otherwise the client gets a truncated response.
//
// The handler may read the request body via ctx.Body(). Unread body bytes
// are skipped after the handler returns.
type RequestHandler func(ctx *RequestCtx) error

// RequestCtx carries one request and its response sink to a RequestHandler.
//
// RequestCtx implements context.Context. It is done once the connection
// is torn down, so long running handlers can give up early.
//
// It is unsafe to use RequestCtx after the handler returned.
type RequestCtx struct {
	s  *Server
	sc *serverConn

	head    *RequestHead
	opts    *ConnectionOptions
	framing Framing
	body    *requestBody
	sink    *ResponseSink
	// last is true if no request is read after this one.
	last bool

	connRequestNum uint64
	time           time.Time

	// bytes of interim (1xx) responses written ahead of the final one.
	interim atomic.Int64

	upgradeHandler UpgradeHandler
	// closed when the handler task finished.
	done chan struct{}

	loggerOnce sync.Once
	logger     zerolog.Logger

	decoded io.ReadCloser
}

func (rc *RequestCtx) Deadline() (deadline time.Time, ok bool) {
	return rc.sc.ctx.Deadline()
}

func (rc *RequestCtx) Done() <-chan struct{} {
	return rc.sc.ctx.Done()
}

func (rc *RequestCtx) Err() error {
	return rc.sc.ctx.Err()
}

// Value returns the value the connection's context associates with key.
func (rc *RequestCtx) Value(key any) any {
	return rc.sc.ctx.Value(key)
}

// Head returns the parsed request line and headers.
func (rc *RequestCtx) Head() *RequestHead { return rc.head }

func (rc *RequestCtx) Framing() Framing { return rc.framing }

// ConnectionOptions returns the parsed Connection header, nil if absent.
func (rc *RequestCtx) ConnectionOptions() *ConnectionOptions { return rc.opts }

// Body returns the request body. It is empty for requests without a body.
func (rc *RequestCtx) Body() io.ReadCloser { return rc.body }

// Sink returns the response sink of this request.
func (rc *RequestCtx) Sink() *ResponseSink { return rc.sink }

// Write appends p to the response.
func (rc *RequestCtx) Write(p []byte) (int, error) {
	return rc.sink.Write(p)
}

func (rc *RequestCtx) WriteString(s string) (int, error) {
	return rc.sink.WriteString(s)
}

// ConnectionClose reports whether the connection is closed after this
// response, either because the client asked for it or because the server
// is shutting down. A response written without reading a body the client
// sent Expect: 100-continue for closes the connection as well.
func (rc *RequestCtx) ConnectionClose() bool { return rc.last }

// closeAfterResponse reports whether the response has to announce
// Connection: close. Besides the last request this is a body the client
// still waits to be asked for: it is never read, so nothing can follow it.
func (rc *RequestCtx) closeAfterResponse() bool {
	if rc.last {
		return true
	}
	if rc.body.skipContinue() {
		rc.last = true
	}
	return rc.last
}

// ConnID returns the id of the connection the request arrived on.
func (rc *RequestCtx) ConnID() uint64 { return rc.sc.id }

// ConnRequestNum returns the request sequence number on the connection,
// starting with 1.
func (rc *RequestCtx) ConnRequestNum() uint64 { return rc.connRequestNum }

// ConnTime returns the time the connection was accepted.
func (rc *RequestCtx) ConnTime() time.Time { return rc.sc.connTime }

// Time returns the time the request head was parsed.
func (rc *RequestCtx) Time() time.Time { return rc.time }

func (rc *RequestCtx) RemoteAddr() net.Addr { return rc.sc.c.RemoteAddr() }

func (rc *RequestCtx) LocalAddr() net.Addr { return rc.sc.c.LocalAddr() }

// Logger returns a logger carrying the connection id and the request number.
func (rc *RequestCtx) Logger() *zerolog.Logger {
	rc.loggerOnce.Do(func() {
		rc.logger = rc.sc.logger.With().
			Uint64("req", rc.connRequestNum).
			Str("method", rc.head.Method()).
			Str("target", rc.head.Target()).
			Logger()
	})
	return &rc.logger
}

func (rc *RequestCtx) String() string {
	return rc.head.String()
}

// IsUpgrade reports whether the request asks for a protocol upgrade.
func (rc *RequestCtx) IsUpgrade() bool { return rc.framing.Kind == BodyUpgrade }

// Upgrade registers h to take over the connection once the handler returned
// and every pending response, typically a 101 Switching Protocols written by
// the handler, was sent. No further requests are read from the connection.
//
// Upgrade must be called before the handler returns.
func (rc *RequestCtx) Upgrade(h UpgradeHandler) error {
	if rc.framing.Kind != BodyUpgrade {
		return ErrNotUpgradable
	}
	rc.upgradeHandler = h
	return nil
}

// Respond writes a complete response with the given status, content type and
// body. Connection management headers follow the connection state. The body
// is omitted for HEAD requests.
func (rc *RequestCtx) Respond(status int, contentType string, body []byte, extra ...HeaderField) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	closeConn := rc.closeAfterResponse()
	b.B = appendResponseHead(b.B, status, rc.s.Name, contentType, int64(len(body)), closeConn,
		!closeConn && rc.head.Version() == HTTP10)
	for _, f := range extra {
		b.B = appendHeaderLine(b.B, f.Name, f.Value)
	}
	b.B = append(b.B, strCRLF...)
	if !rc.head.IsHead() && bodyAllowedForStatus(status) {
		b.B = append(b.B, body...)
	}
	_, err := rc.sink.Write(b.B)
	return err
}

// RespondString is like Respond with a string body.
func (rc *RequestCtx) RespondString(status int, contentType, body string, extra ...HeaderField) error {
	return rc.Respond(status, contentType, s2b(body), extra...)
}

// ErrChunkedUnsupported is returned by ChunkedWriter for HTTP/1.0 requests.
var ErrChunkedUnsupported = errors.New("pipehttp: chunked response to an HTTP/1.0 request")

// ChunkedWriter writes the response head with chunked transfer coding and
// returns a writer for the body. Closing the writer finishes the body.
func (rc *RequestCtx) ChunkedWriter(status int, contentType string, extra ...HeaderField) (io.WriteCloser, error) {
	if rc.head.Version() != HTTP11 {
		return nil, ErrChunkedUnsupported
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	b.B = appendResponseHead(b.B, status, rc.s.Name, contentType, -1, rc.closeAfterResponse(), false)
	for _, f := range extra {
		b.B = appendHeaderLine(b.B, f.Name, f.Value)
	}
	b.B = append(b.B, strCRLF...)
	if _, err := rc.sink.Write(b.B); err != nil {
		return nil, err
	}
	return &chunkWriter{sink: rc.sink, noBody: rc.head.IsHead() || !bodyAllowedForStatus(status)}, nil
}

type chunkWriter struct {
	sink   *ResponseSink
	noBody bool
	buf    []byte
	closed bool
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrSinkClosed
	}
	if len(p) == 0 || w.noBody {
		return len(p), nil
	}
	w.buf = appendChunk(w.buf[:0], p)
	if _, err := w.sink.Write(w.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *chunkWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.noBody {
		return nil
	}
	_, err := w.sink.WriteString(lastChunk)
	return err
}

func (rc *RequestCtx) expectsContinue() bool {
	return rc.framing.HasBody() && rc.head.Version() == HTTP11 &&
		httpguts.HeaderValuesContainsToken(rc.head.Values("Expect"), "100-continue")
}

// sendContinue writes the interim response a client sending
// Expect: 100-continue waits for.
func (rc *RequestCtx) sendContinue() error {
	n, err := rc.sink.WriteString(continueResponse)
	rc.interim.Add(int64(n))
	return err
}

// finish ends the handler task. err is the handler's failure, if any.
func (rc *RequestCtx) finish(err error) {
	if rc.decoded != nil {
		_ = rc.decoded.Close()
	}
	// decided before the body is released to the read loop.
	closeConn := err != nil && rc.closeAfterResponse()
	_ = rc.body.Close()
	if err == nil {
		_ = rc.sink.Close()
		return
	}
	if !rc.sink.State().terminal() && rc.sink.Written() == rc.interim.Load() {
		resp := internalServerErr
		if closeConn {
			resp = internalServerCloseErr
		}
		_, _ = rc.sink.WriteString(resp)
	}
	_ = rc.sink.CloseWithError(err)
}

// reject answers the request without running the handler.
func (rc *RequestCtx) reject(resp string) {
	_, _ = rc.sink.WriteString(resp)
	_ = rc.sink.Close()
	_ = rc.body.Close()
	close(rc.done)
}

var _ context.Context = (*RequestCtx)(nil)
