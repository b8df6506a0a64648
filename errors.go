package pipehttp

import (
	"io"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ParseError reports a malformed request head or ambiguous body framing.
//
// A ParseError always ends request parsing on the connection: a terminal
// 400 Bad Request is queued behind the responses that are already in flight
// and the connection is closed once it has been written.
type ParseError struct {
	s string
}

func (e *ParseError) Error() string { return e.s }

func newParseError(what, val string) *ParseError {
	if val == "" {
		return &ParseError{s: "pipehttp: " + what}
	}
	return &ParseError{s: "pipehttp: " + what + ": " + val}
}

var (
	ErrRequestLineTooLong        = newParseError("request line too long", "")
	ErrHeaderTooLarge            = newParseError("request header too large", "")
	ErrUnexpectedHeaderEOF       = newParseError("unexpected EOF reading request head", "")
	ErrEmptyHeaderKey            = newParseError("empty header key", "")
	ErrObsoleteLineFolding       = newParseError("obsolete header line folding", "")
	ErrAmbiguousFraming          = newParseError("both Transfer-Encoding and Content-Length present", "")
	ErrDuplicateContentLength    = newParseError("multiple Content-Length headers", "")
	ErrInvalidContentLength      = newParseError("Content-Length not a non-negative integer", "")
	ErrUnsupportedTransferCoding = newParseError("unsupported Transfer-Encoding", "")
)

// TransportError wraps an I/O failure on the connection. It is fatal for the
// connection: in-flight handlers are cancelled and the connection is closed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "pipehttp: transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandlerError is the cause a ResponseSink is closed with when its handler
// returned an error or panicked.
type HandlerError struct {
	Err   error
	Panic any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return "pipehttp: handler panic: " + e.Err.Error()
	}
	return "pipehttp: handler failed: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }

var (
	// ErrIdleTimeout is returned by ServeConn when the writer loop waited
	// longer than Server.IdleTimeout for the next response to become ready.
	ErrIdleTimeout = errors.New("pipehttp: idle timeout awaiting response")

	ErrUnexpectedReqBodyEOF = errors.New("pipehttp: unexpected EOF reading request body")
	ErrBodyTooLarge         = errors.New("pipehttp: request body too large")
	ErrBodyClosed           = errors.New("pipehttp: read on closed request body")
	ErrSinkClosed           = errors.New("pipehttp: write on closed response sink")
	ErrNotUpgradable        = errors.New("pipehttp: request does not ask for a protocol upgrade")

	ErrContentEncodingUnsupported = errors.New("pipehttp: unsupported Content-Encoding")

	// errPipelineClosed is returned by dequeueNext once the read side has
	// stopped enqueueing and every queued sink was handed out.
	errPipelineClosed = errors.New("pipeline closed")
	// errContinueNotSent marks a body that was never requested from a peer
	// waiting for 100 Continue, so its bytes cannot be skipped.
	errContinueNotSent = errors.New("request body not read after Expect: 100-continue")
	errUpgraded        = errors.New("connection has been upgraded")
)

// ErrBrokenChunk is returned when the chunked request body is malformed.
type ErrBrokenChunk struct {
	error
}

// IsParseError reports whether err is, or wraps, a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err is, or wraps, a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportError(op string, err error) error {
	if err == nil || IsTransportError(err) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// isBenignConnError reports errors that are common when serving real-world
// clients and are not worth logging by default.
//
//goland:noinspection GoTypeAssertionOnErrors
func isBenignConnError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrUnexpectedReqBodyEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "reset by peer") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "closed pipe") ||
		strings.Contains(errStr, "connection closed")
}
