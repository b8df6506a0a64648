package pipehttp

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

// ServeConn serves HTTP requests from the given connection
// using the given handler.
//
// ServeConn returns nil if all requests from the c are successfully served.
// It returns non-nil error otherwise.
//
// ServeConn closes c before returning, unless the connection was upgraded.
func ServeConn(c net.Conn, handler RequestHandler) error {
	v := serverPool.Get()
	if v == nil {
		v = &Server{}
	}
	s := v.(*Server)
	s.Handler = handler
	err := s.ServeConn(c)
	s.Handler = nil
	serverPool.Put(v)
	return err
}

var serverPool sync.Pool

// Server serves pipelined HTTP/1.x requests from connections accepted
// elsewhere.
//
// Default Server settings should satisfy the majority of Server users.
// Adjust Server settings only if you really understand the consequences.
//
// It is forbidden copying Server instances. Create new Server instances
// instead.
//
// It is safe to call Server methods from concurrently running goroutines.
type Server struct {
	noCopy noCopy

	// Handler for processing incoming requests.
	//
	// Handler panics are recovered and turned into a HandlerError that aborts
	// the response of that request only.
	Handler RequestHandler

	// Server name used by RequestCtx.Respond for the Server header.
	// No Server header is sent if empty.
	Name string

	// PipelineCapacity is the number of responses that may be outstanding on
	// one connection. A client pipelining more requests than that is not read
	// from until the oldest response was written.
	// A zero or negative value indicates the default value, 3.
	PipelineCapacity int

	// The maximum number of handlers running at the same time, summed over
	// all connections. A request arriving when the limit is reached gets a
	// 503 response.
	// A zero or negative value indicates the default value, 256 * 1024.
	Concurrency int

	// Per-connection buffer size for requests' reading.
	// This also limits the maximum request head size: the whole head has to
	// fit into the buffer before it is parsed.
	// A zero or negative value indicates the default value, 4096.
	ReadBufferSize int

	// Per-connection buffer size for responses' writing.
	// A zero or negative value indicates the default value, 4096.
	WriteBufferSize int

	// Maximum length of the request line.
	// It can't be larger than ReadBufferSize.
	// A zero or negative value indicates the default value, 8192.
	MaxRequestLineSize int

	// Maximum request body size. A request with a larger Content-Length is
	// answered with 413 and the connection is closed. A chunked body is cut
	// off with ErrBodyTooLarge once it grows beyond the limit.
	// A zero or negative value indicates the default value, 4MB.
	MaxRequestBodySize int64

	// Number of response bytes a handler may buffer in its sink before
	// Write blocks until the connection has caught up.
	// A zero or negative value indicates the default value, 64KB.
	SinkBufferSize int

	// ReadTimeout is the amount of time allowed to read one request head,
	// counted from its first byte.
	// A zero or negative value indicates no limit.
	ReadTimeout time.Duration

	// WriteTimeout bounds every flush of buffered response bytes to the
	// connection.
	// A zero or negative value indicates no limit.
	WriteTimeout time.Duration

	// IdleTimeout is the longest time the connection waits for the next
	// response to become ready, counted from the last read or write on the
	// connection. Keep-alive connections without requests are closed after
	// this time as well. A response whose first bytes were sent is never
	// cut off by it.
	// Zero indicates the default value, 45s. A negative value disables it.
	IdleTimeout time.Duration

	// Timeouter returns the timeout service for a new connection.
	// The default one is driven by IdleTimeout.
	Timeouter func(c net.Conn) Timeouter

	// MaxIdleWorkerDuration is the maximum idle time of a single worker in the underlying
	// worker pool of the Server. Idle workers beyond this time will be cleared.
	// The resources associated with it are just a channel and a goroutine.
	MaxIdleWorkerDuration time.Duration

	// Determines whether a connection can only serve a single request.
	// If this field is set to `true`, the connection is closed after the
	// first response.
	DisableKeepalive bool

	// Logs all errors, including the most frequent
	// 'connection reset by peer', 'broken pipe' and 'connection timeout'
	// errors. Such errors are common in production serving real-world
	// clients.
	LogAllErrors bool

	// ConnState specifies an optional callback function that is
	// called when a client connection changes state. See the
	// ConnState type and associated constants for details.
	ConnState func(net.Conn, ConnState)

	// Logger, which is used by Server.
	//
	// By default a JSON logger writing to stderr is used.
	Logger *zerolog.Logger

	wpMu sync.Mutex
	wp   *workerPool

	mu sync.Mutex
	// stop is set during shutdown. Every request parsed afterwards is the
	// last one on its connection.
	stop atomic.Bool
	open atomic.Int32

	rejectedByConcurrencyLimitCount atomic.Uint32

	connsOnce sync.Once
	conns     *xsync.MapOf[net.Conn, *ConnStatus]

	readerPool sync.Pool
	writerPool sync.Pool

	loggerOnce sync.Once
	logger     *zerolog.Logger
}

// noCopy may be embedded into structs which must not be copied
// after the first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

const (
	// DefaultConcurrency is the maximum number of concurrently running
	// handlers the Server may run by default.
	DefaultConcurrency = 256 * 1024

	// DefaultMaxRequestBodySize is the maximum request body size the server
	// reads by default.
	DefaultMaxRequestBodySize = 4 * 1024 * 1024

	defaultReadBufferSize     = 4096
	defaultWriteBufferSize    = 4096
	defaultMaxRequestLineSize = 8192
	defaultSinkBufferSize     = 64 * 1024
)

func (s *Server) getConcurrency() int {
	n := s.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return n
}

func (s *Server) pipelineCapacity() int {
	if s.PipelineCapacity <= 0 {
		return DefaultPipelineCapacity
	}
	return s.PipelineCapacity
}

func (s *Server) readBufferSize() int {
	if s.ReadBufferSize <= 0 {
		return defaultReadBufferSize
	}
	return s.ReadBufferSize
}

func (s *Server) writeBufferSize() int {
	if s.WriteBufferSize <= 0 {
		return defaultWriteBufferSize
	}
	return s.WriteBufferSize
}

func (s *Server) maxRequestLineSize() int {
	n := s.MaxRequestLineSize
	if n <= 0 {
		n = defaultMaxRequestLineSize
	}
	if rb := s.readBufferSize(); n > rb {
		n = rb
	}
	return n
}

func (s *Server) maxRequestBodySize() int64 {
	if s.MaxRequestBodySize <= 0 {
		return DefaultMaxRequestBodySize
	}
	return s.MaxRequestBodySize
}

func (s *Server) sinkBufferSize() int {
	if s.SinkBufferSize <= 0 {
		return defaultSinkBufferSize
	}
	return s.SinkBufferSize
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout == 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

func (s *Server) getLogger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	s.loggerOnce.Do(func() {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		s.logger = &l
	})
	return s.logger
}

// workerPool returns the running handler pool, starting it if necessary.
func (s *Server) workerPool() *workerPool {
	s.wpMu.Lock()
	defer s.wpMu.Unlock()
	if s.wp == nil {
		s.wp = &workerPool{
			WorkerFunc:            s.serveRequest,
			MaxWorkersCount:       s.getConcurrency(),
			LogAllErrors:          s.LogAllErrors,
			MaxIdleWorkerDuration: s.MaxIdleWorkerDuration,
			Logger:                s.getLogger(),
		}
		s.wp.Start()
	}
	return s.wp
}

func (s *Server) stopWorkerPool() {
	s.wpMu.Lock()
	if s.wp != nil {
		s.wp.Stop()
		s.wp = nil
	}
	s.wpMu.Unlock()
}

// ServeConn serves HTTP requests from the given connection.
//
// ServeConn returns nil once the client closed the connection between
// requests or a request asked to close it. A malformed request head yields
// a *ParseError, after the 400 response was sent. ErrIdleTimeout is returned
// when no response became ready in time. Any other error means the
// connection broke.
//
// ServeConn returns after every handler started for the connection has
// returned. It closes c before returning, unless the connection was handed
// to an UpgradeHandler.
func (s *Server) ServeConn(c net.Conn) error {
	return s.ServeConnContext(context.Background(), c)
}

// ServeConnContext is like ServeConn. Cancelling ctx tears the connection
// down and every RequestCtx served on it becomes done.
func (s *Server) ServeConnContext(ctx context.Context, c net.Conn) error {
	s.open.Add(1)
	s.setState(c, StateNew)
	err := s.serveConn(ctx, c)
	s.open.Add(-1)

	if err != errUpgraded {
		errc := c.Close()
		s.setState(c, StateClosed)
		if err == nil && errc != nil && !errors.Is(errc, net.ErrClosed) && !errors.Is(errc, io.ErrClosedPipe) {
			err = errc
		}
	} else {
		err = nil
	}
	return err
}

var globalConnID atomic.Uint64

func nextConnID() uint64 {
	return globalConnID.Add(1)
}

// serverConn is the state of one served connection: the read loop parsing
// requests, the write loop sending responses and the queue between them.
type serverConn struct {
	s   *Server
	c   net.Conn
	id  uint64
	ctx context.Context
	// cancel tears the connection down. The first cause wins.
	cancel context.CancelCauseFunc

	br *bufio.Reader
	bw *bufio.Writer
	q  *pipelineQueue
	wp *workerPool

	timeouter Timeouter
	status    *ConnStatus
	// awaiting is set while the read loop waits for the next request head.
	awaiting atomic.Bool

	reqNum   uint64
	connTime time.Time
	logger   zerolog.Logger

	// handler tasks that have not returned yet.
	handlers sync.WaitGroup
	// upgrade is the request whose handler took over the connection.
	upgrade *RequestCtx
}

func (s *Server) serveConn(ctx context.Context, c net.Conn) (err error) {
	sc := &serverConn{
		s:        s,
		c:        c,
		id:       nextConnID(),
		q:        newPipelineQueue(s.pipelineCapacity()),
		wp:       s.workerPool(),
		connTime: time.Now(),
	}
	sc.ctx, sc.cancel = context.WithCancelCause(ctx)
	sc.status, _ = s.connStatuses().Load(c)

	idle := newIdleTimeouter(s.idleTimeout())
	if s.Timeouter != nil {
		sc.timeouter = s.Timeouter(c)
	} else {
		sc.timeouter = idle
	}
	tc := &trackedConn{Conn: c, t: idle}
	sc.br = s.acquireReader(tc)
	sc.bw = s.acquireWriter(tc)
	sc.logger = s.getLogger().With().
		Uint64("conn", sc.id).
		Stringer("remote", c.RemoteAddr()).
		Logger()

	// closing the socket unblocks the read loop and any body read.
	stopClose := context.AfterFunc(sc.ctx, func() { _ = c.Close() })

	writeDone := make(chan error, 1)
	go func() {
		werr := sc.writeLoop()
		if werr != nil {
			sc.cancel(werr)
		}
		writeDone <- werr
	}()

	rerr := sc.readLoop()
	sc.q.close()
	if rerr != nil && !IsParseError(rerr) && rerr != ErrBodyTooLarge {
		sc.cancel(rerr)
	}
	<-writeDone
	// sinks enqueued after the write loop gave up.
	for sink := range sc.q.sinks {
		sink.release()
	}
	sc.handlers.Wait()

	err = rerr
	if cause := context.Cause(sc.ctx); cause != nil {
		err = cause
	}
	if err == nil && sc.upgrade != nil && stopClose() {
		s.setState(c, StateUpgraded)
		s.runUpgradeHandler(sc, sc.upgrade.upgradeHandler)
		_ = c.Close()
		err = errUpgraded
	}
	sc.cancel(errConnClosed)
	stopClose()

	s.releaseReader(sc.br)
	s.releaseWriter(sc.bw)

	if err != nil && err != errUpgraded {
		if IsParseError(err) || (!s.LogAllErrors && isBenignConnError(err)) {
			sc.logger.Debug().Err(err).Msg("connection closed")
		} else {
			sc.logger.Warn().Err(err).Msg("error when serving connection")
		}
	}
	return err
}

var errConnClosed = errors.New("pipehttp: connection closed")

// readLoop parses requests and dispatches them until the connection has to
// stop reading. A nil result means no more requests are expected.
func (sc *serverConn) readLoop() error {
	s := sc.s
	for {
		sc.awaiting.Store(true)
		sc.markIdle()
		head, err := sc.readHead()
		sc.awaiting.Store(false)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if IsParseError(err) {
				return sc.enqueueStatic(badRequestResponse, err)
			}
			if s.stop.Load() && sc.q.outstanding() == 0 {
				// closed by shutdown while idle.
				return nil
			}
			return transportError("read", err)
		}
		sc.reqNum++
		s.setState(sc.c, StateActive)

		opts := ParseConnectionOptions(head)
		framing, err := decideFraming(head, opts, s.maxRequestBodySize())
		if err != nil {
			if err == ErrBodyTooLarge {
				return sc.enqueueStatic(requestEntityTooLargeErr, err)
			}
			return sc.enqueueStatic(badRequestResponse, err)
		}
		last := s.DisableKeepalive || s.stop.Load() || IsLastRequest(head.Version(), opts)

		rc := sc.newRequestCtx(head, opts, framing, last)
		if err = sc.q.enqueue(sc.ctx, rc.sink); err != nil {
			rc.sink.release()
			return err
		}
		sc.handlers.Add(1)
		if !sc.wp.Serve(rc) {
			sc.handlers.Done()
			s.rejectedByConcurrencyLimitCount.Add(1)
			if last {
				rc.reject(concurrencyLimitCloseErr)
			} else {
				rc.reject(concurrencyLimitErr)
			}
		}

		switch framing.Kind {
		case BodyFixed, BodyChunked:
			// the body reader owns the connection input until released.
			select {
			case <-rc.body.released:
			case <-sc.ctx.Done():
				return context.Cause(sc.ctx)
			}
			if err = rc.body.discardRest(); err != nil {
				if err == errContinueNotSent {
					return nil
				}
				return transportError("read body", err)
			}
		case BodyUpgrade:
			select {
			case <-rc.done:
			case <-sc.ctx.Done():
				return context.Cause(sc.ctx)
			}
			if rc.upgradeHandler != nil {
				sc.upgrade = rc
				return nil
			}
		}
		if last {
			return nil
		}
	}
}

func (sc *serverConn) readHead() (*RequestHead, error) {
	if rt := sc.s.ReadTimeout; rt > 0 {
		// an idle connection is bounded by the idle timeout, not by ReadTimeout.
		if _, err := sc.br.Peek(1); err != nil {
			return nil, err
		}
		_ = sc.c.SetReadDeadline(time.Now().Add(rt))
		defer func() { _ = sc.c.SetReadDeadline(time.Time{}) }()
	}
	return readRequestHead(sc.br, sc.s.maxRequestLineSize())
}

// enqueueStatic queues a final synthesized response and returns cause.
func (sc *serverConn) enqueueStatic(resp string, cause error) error {
	sink := newStaticSink(sc.ctx, resp)
	if err := sc.q.enqueue(sc.ctx, sink); err != nil {
		sink.release()
		return err
	}
	return cause
}

func (sc *serverConn) newRequestCtx(head *RequestHead, opts *ConnectionOptions, framing Framing, last bool) *RequestCtx {
	s := sc.s
	rc := &RequestCtx{
		s:              s,
		sc:             sc,
		head:           head,
		opts:           opts,
		framing:        framing,
		last:           last,
		connRequestNum: sc.reqNum,
		time:           time.Now(),
		done:           make(chan struct{}),
	}
	rc.sink = newResponseSink(sc.ctx, s.sinkBufferSize())
	rc.body = newRequestBody(sc.br, framing, s.maxRequestBodySize())
	if rc.expectsContinue() {
		rc.body.beforeRead = rc.sendContinue
	}
	return rc
}

// writeLoop copies the queued responses to the connection in queue order.
// It returns nil after the last queued response was sent.
func (sc *serverConn) writeLoop() (err error) {
	spare := bytebufferpool.Get()
	defer func() { bytebufferpool.Put(spare) }()
	for {
		var sink *ResponseSink
		err = sc.timeouter.WithTimeout(sc.ctx, func(ctx context.Context) (e error) {
			sink, e = sc.q.dequeueNext(ctx)
			return
		})
		if err != nil {
			if sink != nil {
				sink.release()
				sc.q.release()
			}
			if errors.Is(err, errPipelineClosed) {
				return sc.flush()
			}
			return
		}
		err = sc.writeSink(sink, &spare)
		sink.release()
		sc.q.release()
		if err != nil {
			return
		}
		sc.markIdle()
	}
}

// writeSink copies one response until its sink is finished. An Errored sink
// is not a failure of the connection.
func (sc *serverConn) writeSink(sink *ResponseSink, spare **bytebufferpool.ByteBuffer) error {
	for {
		filled, finished := sink.swap(*spare)
		if filled != nil {
			if err := sc.write(filled.B); err != nil {
				return err
			}
			*spare = filled
		}
		if finished {
			if serr := sink.Err(); serr != nil && serr != errSinkAbandoned {
				sc.logger.Debug().Err(serr).Msg("response aborted")
			}
			return sc.flush()
		}
		if filled != nil {
			continue
		}
		// the handler is slower than the connection. A started response is
		// not subject to the idle timeout, the handler decides when it ends.
		if err := sc.flush(); err != nil {
			return err
		}
		select {
		case <-sink.readable:
		case <-sc.ctx.Done():
			return context.Cause(sc.ctx)
		}
	}
}

func (sc *serverConn) write(p []byte) error {
	if wt := sc.s.WriteTimeout; wt > 0 && len(p) > sc.bw.Available() {
		_ = sc.c.SetWriteDeadline(time.Now().Add(wt))
	}
	_, err := sc.bw.Write(p)
	return transportError("write", err)
}

func (sc *serverConn) flush() error {
	if sc.bw.Buffered() == 0 {
		return nil
	}
	if wt := sc.s.WriteTimeout; wt > 0 {
		_ = sc.c.SetWriteDeadline(time.Now().Add(wt))
	}
	return transportError("flush", sc.bw.Flush())
}

// markIdle reports the connection idle once no response is outstanding
// while the read loop waits for a request. Both loops call it after
// changing their half of the condition.
func (sc *serverConn) markIdle() {
	if sc.awaiting.Load() && sc.q.outstanding() == 0 {
		sc.s.setIdle(sc.c, sc.status)
	}
}

// serveRequest runs the handler of one request on a pool worker.
func (s *Server) serveRequest(rc *RequestCtx) (err error) {
	defer rc.sc.handlers.Done()
	defer close(rc.done)
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithStack(&HandlerError{Err: errors.Errorf("%v", r), Panic: r})
		}
		rc.finish(err)
	}()
	if herr := s.Handler(rc); herr != nil {
		err = errors.WithStack(&HandlerError{Err: herr})
	}
	return
}

func (s *Server) acquireReader(c net.Conn) *bufio.Reader {
	v := s.readerPool.Get()
	if v == nil {
		return bufio.NewReaderSize(c, s.readBufferSize())
	}
	r := v.(*bufio.Reader)
	r.Reset(c)
	return r
}

func (s *Server) releaseReader(r *bufio.Reader) {
	r.Reset(nil)
	s.readerPool.Put(r)
}

func (s *Server) acquireWriter(c net.Conn) *bufio.Writer {
	v := s.writerPool.Get()
	if v == nil {
		return bufio.NewWriterSize(c, s.writeBufferSize())
	}
	w := v.(*bufio.Writer)
	w.Reset(c)
	return w
}

func (s *Server) releaseWriter(w *bufio.Writer) {
	w.Reset(nil)
	s.writerPool.Put(w)
}

// OpenConnectionsCount returns a number of connections currently served.
//
// This function is intended be used by monitoring systems.
func (s *Server) OpenConnectionsCount() int32 {
	return s.open.Load()
}

// InFlightHandlers returns the number of handlers currently running.
//
// This function is intended be used by monitoring systems.
func (s *Server) InFlightHandlers() int {
	s.wpMu.Lock()
	wp := s.wp
	s.wpMu.Unlock()
	if wp == nil {
		return 0
	}
	return wp.busyWorkers()
}

// RejectedByConcurrencyLimitCount returns a number of requests answered with
// 503 because Concurrency handlers were already running.
//
// This function is intended be used by monitoring systems.
func (s *Server) RejectedByConcurrencyLimitCount() uint32 {
	return s.rejectedByConcurrencyLimitCount.Load()
}

// Shutdown gracefully shuts down the server without interrupting any active
// connections.
//
// Shutdown works by closing connections that are idle, making every other
// connection close after the response it is working on, and waiting for
// all connections to be closed.
//
// If a connection never becomes idle, this method will not return. If you
// want to return decisively after a certain period, refer to
// ShutdownWithContext.
func (s *Server) Shutdown() error {
	return s.ShutdownWithContext(context.Background())
}

// ShutdownWithContext is like Shutdown. When ctx is done, the remaining
// connections are closed forcibly and ctx.Err() is returned.
func (s *Server) ShutdownWithContext(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// stop will make every read loop treat its next request as the last one.
	s.stop.Store(true)
	defer s.stop.Store(false)

	// Now, wait for all existing connections to be closed.
	// Or until the ctx is canceled.
	ticker := time.NewTicker(time.Millisecond * 100)
	defer ticker.Stop()
END:
	for {
		s.closeIdleConns()

		if open := s.open.Load(); open == 0 {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			s.closeAllConns()
			break END
		case <-ticker.C:
			continue
		}
	}
	s.stopWorkerPool()
	return err
}

// ConnStatus is used to store the status of a connection throughout its entire
// lifecycle.
type ConnStatus struct {
	// one of StateNew StateActive StateIdle
	status atomic.Int32
	// After the connection is accepted, this field is set to the current
	// time plus 5 seconds, giving the first request a chance to arrive
	// before a shutdown closes the connection. Afterwards it is the time
	// the connection became idle.
	lastActive atomic.Int64
	// The time when the connection is accepted.
	createTime int64
}

func (s *Server) connStatuses() *xsync.MapOf[net.Conn, *ConnStatus] {
	s.connsOnce.Do(func() {
		s.conns = xsync.NewMapOf[net.Conn, *ConnStatus]()
	})
	return s.conns
}

func (s *Server) setState(c net.Conn, state ConnState) {
	conns := s.connStatuses()
	switch state {
	case StateNew:
		cs := &ConnStatus{createTime: absoluteNano()}
		cs.status.Store(int32(StateNew))
		cs.lastActive.Store(absoluteNano() + int64(time.Second*5))
		conns.Store(c, cs)
	case StateActive:
		if cs, ok := conns.Load(c); ok {
			if cs.status.Swap(int32(StateActive)) == int32(StateActive) {
				return
			}
		}
	default:
		// StateUpgraded StateClosed delete it from s.conns.
		if _, ok := conns.LoadAndDelete(c); !ok && state == StateClosed {
			// already reported by an earlier transition.
			return
		}
	}
	if hook := s.ConnState; hook != nil {
		hook(c, state)
	}
}

// setIdle moves an active connection to StateIdle.
func (s *Server) setIdle(c net.Conn, cs *ConnStatus) {
	if cs == nil || !cs.status.CompareAndSwap(int32(StateActive), int32(StateIdle)) {
		return
	}
	cs.lastActive.Store(absoluteNano())
	if hook := s.ConnState; hook != nil {
		hook(c, StateIdle)
	}
}

func (s *Server) closeIdleConns() {
	now := absoluteNano()
	s.connStatuses().Range(func(c net.Conn, cs *ConnStatus) bool {
		st := ConnState(cs.status.Load())
		if (st == StateIdle || st == StateNew) && now-cs.lastActive.Load() >= 0 {
			_ = c.Close()
		}
		return true
	})
}

func (s *Server) closeAllConns() {
	s.connStatuses().Range(func(c net.Conn, _ *ConnStatus) bool {
		_ = c.Close()
		return true
	})
}

// A ConnState represents the state of a client connection to a server.
// It's used by the optional Server.ConnState hook.
type ConnState int32

const (
	// StateNew represents a new connection that is expected to
	// send a request immediately. Connections begin at this
	// state and then transition to either StateActive or
	// StateClosed.
	StateNew ConnState = iota

	// StateActive represents a connection that has read a request head
	// and has at least one response outstanding.
	StateActive

	// StateIdle represents a connection that has sent every response
	// and is in the keep-alive state, waiting for a new request.
	// Connections transition from StateIdle to either StateActive
	// or StateClosed.
	StateIdle

	// StateUpgraded represents a connection handed to an UpgradeHandler.
	// This is a terminal state. It does not transition to StateClosed.
	StateUpgraded

	// StateClosed represents a closed connection.
	// This is a terminal state.
	StateClosed
)

var stateName = map[ConnState]string{
	StateNew:      "new",
	StateActive:   "active",
	StateIdle:     "idle",
	StateUpgraded: "upgraded",
	StateClosed:   "closed",
}

func (c ConnState) String() string {
	return stateName[c]
}
