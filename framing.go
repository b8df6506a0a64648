package pipehttp

import (
	"strings"
)

// BodyKind classifies how a request body is delimited on the wire.
type BodyKind uint8

const (
	// BodyNone means the request has no body; the next request head
	// starts right after this one.
	BodyNone BodyKind = iota
	// BodyFixed means the body is exactly Framing.ContentLength bytes.
	BodyFixed
	// BodyChunked means the body uses chunked transfer coding.
	BodyChunked
	// BodyUpgrade means the request has no body but asks to switch
	// protocols; bytes following the head may belong to the new protocol.
	BodyUpgrade
)

var bodyKindNames = [...]string{"none", "fixed", "chunked", "upgrade"}

func (k BodyKind) String() string {
	if int(k) < len(bodyKindNames) {
		return bodyKindNames[k]
	}
	return "unknown"
}

// Framing is the body framing decided once per request from its head.
type Framing struct {
	Kind BodyKind
	// ContentLength is the body size for BodyFixed, -1 for BodyChunked
	// and 0 otherwise.
	ContentLength int64
}

// HasBody reports whether body bytes follow the head on the connection.
func (f Framing) HasBody() bool {
	return f.Kind == BodyFixed || f.Kind == BodyChunked
}

// decideFraming classifies the body of the request described by h.
//
// The checks run in a fixed order: Transfer-Encoding together with
// Content-Length and repeated Content-Length are rejected before either
// header is used, so a request can never be framed two ways.
func decideFraming(h *RequestHead, opts *ConnectionOptions, maxBodySize int64) (f Framing, err error) {
	te := h.Values("Transfer-Encoding")
	clCount := h.Count("Content-Length")
	if len(te) > 0 && clCount > 0 {
		err = ErrAmbiguousFraming
		return
	}
	if clCount > 1 {
		err = ErrDuplicateContentLength
		return
	}
	if len(te) > 0 {
		if !isChunkedFinal(te) {
			err = ErrUnsupportedTransferCoding
			return
		}
		f.Kind = BodyChunked
		f.ContentLength = -1
		return
	}
	if clCount == 1 {
		var n int64
		if n, err = parseContentLength(h.Get("Content-Length")); err != nil {
			return
		}
		if maxBodySize > 0 && n > maxBodySize {
			err = ErrBodyTooLarge
			return
		}
		if n > 0 {
			f.Kind = BodyFixed
			f.ContentLength = n
			return
		}
	}
	if h.Method() == "GET" && h.Has("Upgrade") && opts != nil && opts.Upgrade {
		f.Kind = BodyUpgrade
	}
	return
}

// isChunkedFinal reports whether chunked is the last transfer coding applied.
// Any other final coding leaves the body length undeterminable.
func isChunkedFinal(te []string) bool {
	last := ""
	for _, v := range te {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				last = token
			}
		}
	}
	return strings.EqualFold(last, "chunked")
}

func parseContentLength(s string) (int64, error) {
	if len(s) == 0 || len(s) > 18 {
		return -1, ErrInvalidContentLength
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
