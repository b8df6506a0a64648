package pipehttp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

const (
	rChar = byte('\r')
	nChar = byte('\n')
)

var strCRLF = []byte("\r\n")

// Version is an HTTP/1.x protocol version.
type Version struct {
	Major, Minor uint8
}

var (
	HTTP10 = Version{Major: 1, Minor: 0}
	HTTP11 = Version{Major: 1, Minor: 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// HeaderField is a single request header line. Name keeps the spelling
// used on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// RequestHead is the parsed request line and header block of one request.
//
// A RequestHead is immutable once parsed: header fields keep their wire
// order and duplicates are preserved. Name lookups are case-insensitive.
type RequestHead struct {
	method  string
	target  string
	version Version
	headers []HeaderField
}

// NewRequestHead builds a RequestHead from already parsed parts. The headers
// slice is copied.
func NewRequestHead(method, target string, version Version, headers ...HeaderField) *RequestHead {
	return &RequestHead{
		method:  method,
		target:  target,
		version: version,
		headers: append([]HeaderField(nil), headers...),
	}
}

func (h *RequestHead) Method() string { return h.method }

// Target returns the request-target as sent, e.g. "/index.html?x=1".
func (h *RequestHead) Target() string { return h.target }

func (h *RequestHead) Version() Version { return h.version }

// Headers returns a copy of the header list in wire order.
func (h *RequestHead) Headers() []HeaderField {
	return append([]HeaderField(nil), h.headers...)
}

// Len returns the number of header lines.
func (h *RequestHead) Len() int { return len(h.headers) }

// VisitAll calls f for each header line in wire order.
func (h *RequestHead) VisitAll(f func(name, value string)) {
	for i := range h.headers {
		f(h.headers[i].Name, h.headers[i].Value)
	}
}

// Lookup returns the value of the first header with the given name.
func (h *RequestHead) Lookup(name string) (string, bool) {
	for i := range h.headers {
		if strings.EqualFold(h.headers[i].Name, name) {
			return h.headers[i].Value, true
		}
	}
	return "", false
}

// Get returns the value of the first header with the given name, or "".
func (h *RequestHead) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Values returns every value of the header with the given name, in wire order.
func (h *RequestHead) Values(name string) (vs []string) {
	for i := range h.headers {
		if strings.EqualFold(h.headers[i].Name, name) {
			vs = append(vs, h.headers[i].Value)
		}
	}
	return
}

// Count returns how many times the header with the given name appears.
func (h *RequestHead) Count(name string) (n int) {
	for i := range h.headers {
		if strings.EqualFold(h.headers[i].Name, name) {
			n++
		}
	}
	return
}

func (h *RequestHead) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// IsHead reports whether the request method is HEAD.
func (h *RequestHead) IsHead() bool { return h.method == "HEAD" }

func (h *RequestHead) String() string {
	return h.method + " " + h.target + " " + h.version.String()
}

var errNeedMore = errors.New("need more data: cannot find trailing lf")

// readRequestHead reads the next request head from r, looping until the
// whole head is buffered. The body, if any, is left unread in r.
//
// io.EOF is returned if r is closed before the first byte of a request.
// The whole head must fit into r's buffer, otherwise ErrHeaderTooLarge or
// ErrRequestLineTooLong is returned.
func readRequestHead(r *bufio.Reader, maxLineSize int) (h *RequestHead, err error) {
	if err = skipLeadingEmptyLines(r); err != nil {
		return
	}
	n := 1
	for {
		h, err = tryReadHead(r, n, maxLineSize)
		if err == nil {
			return
		}
		if err != errNeedMore {
			return
		}
		n = r.Buffered() + 1
	}
}

// RFC 7230 section 3.5: a server SHOULD ignore at least one empty line
// received prior to the request-line.
func skipLeadingEmptyLines(r *bufio.Reader) error {
	for i := 0; i < 4; i++ {
		b, err := r.Peek(1)
		if len(b) == 0 {
			return err
		}
		if b[0] != rChar && b[0] != nChar {
			return nil
		}
		mustDiscard(r, 1)
	}
	return nil
}

func tryReadHead(r *bufio.Reader, n, maxLineSize int) (h *RequestHead, err error) {
	b, err := r.Peek(n)
	if len(b) != n {
		switch err {
		case io.EOF:
			// at least one byte of this head was seen before.
			err = ErrUnexpectedHeaderEOF
		case bufio.ErrBufferFull:
			if bytes.IndexByte(b, nChar) < 0 {
				err = ErrRequestLineTooLong
			} else {
				err = ErrHeaderTooLarge
			}
		}
		return
	}
	// here n == len(b), so at least one byte is buffered.
	b = mustPeekBuffered(r)
	h, headLen, err := parseRequestHead(b, maxLineSize)
	if err != nil {
		return
	}
	mustDiscard(r, headLen)
	return
}

// parseRequestHead parses a complete head out of buf and returns how many
// bytes it spans, including the terminating empty line.
func parseRequestHead(buf []byte, maxLineSize int) (h *RequestHead, n int, err error) {
	h = &RequestHead{}
	m, err := h.parseFirstLine(buf, maxLineSize)
	if err != nil {
		return nil, 0, err
	}
	headersLen, err := readRawHeaders(buf[m:])
	if err != nil {
		return nil, 0, err
	}
	if err = h.parseHeaders(buf[m : m+headersLen]); err != nil {
		return nil, 0, err
	}
	return h, m + headersLen, nil
}

func (h *RequestHead) parseFirstLine(buf []byte, maxLineSize int) (n int, err error) {
	b, bNext, err := nextLine(buf)
	if err != nil {
		if len(buf) > maxLineSize {
			err = ErrRequestLineTooLong
		}
		return
	}
	if len(b) > maxLineSize {
		err = ErrRequestLineTooLong
		return
	}
	firstLine := string(b)

	// parse method
	n1 := bytes.IndexByte(b, ' ')
	if n1 <= 0 {
		err = newParseError("request method not found", firstLine)
		return
	}
	method := string(b[:n1])
	if !httpguts.ValidHeaderFieldName(method) {
		err = newParseError("invalid method", method)
		return
	}
	b = b[n1+1:]

	// parse request target
	n1 = bytes.LastIndexByte(b, ' ')
	if n1 <= 0 {
		err = newParseError("request target not found", firstLine)
		return
	}
	target := b[:n1]
	for _, ch := range target {
		if ch <= ' ' || ch == 0x7f {
			err = newParseError("invalid request target", firstLine)
			return
		}
	}

	// Follow RFCs 7230 and 9112 and require that HTTP versions match the following pattern: HTTP/[0-9]\.[0-9]
	proto := b[n1+1:]
	if len(proto) != len("HTTP/1.1") || !bytes.HasPrefix(proto, []byte("HTTP/")) || proto[6] != '.' ||
		proto[5] < '0' || proto[5] > '9' || proto[7] < '0' || proto[7] > '9' {
		err = newParseError("malformed HTTP version", string(proto))
		return
	}
	// only http/1.x is served here.
	if proto[5] != '1' {
		err = newParseError("unsupported HTTP version", string(proto))
		return
	}

	h.method = method
	h.target = string(target)
	h.version = Version{Major: proto[5] - '0', Minor: proto[7] - '0'}
	n = len(buf) - len(bNext)
	return
}

// readRawHeaders returns the length of the header block at the start of buf,
// including the empty line that ends it. It recognizes both \r\n and \n
// line endings.
func readRawHeaders(buf []byte) (int, error) {
	n := 0
	for {
		m := bytes.IndexByte(buf[n:], nChar)
		if m < 0 {
			return 0, errNeedMore
		}
		m++
		if (m == 2 && buf[n] == rChar) || m == 1 {
			return n + m, nil
		}
		n += m
	}
}

func (h *RequestHead) parseHeaders(buf []byte) (err error) {
	var line []byte
	for len(buf) > 0 {
		if line, buf, err = nextLine(buf); err != nil {
			return
		}
		if len(line) == 0 {
			return
		}
		if line[0] == ' ' || line[0] == '\t' {
			return ErrObsoleteLineFolding
		}
		n := bytes.IndexByte(line, ':')
		if n == 0 {
			return ErrEmptyHeaderKey
		}
		if n < 0 {
			return newParseError("missing colon in header line", string(line))
		}
		name := string(line[:n])
		if !httpguts.ValidHeaderFieldName(name) {
			return newParseError("invalid header name", name)
		}
		value := string(bytes.Trim(line[n+1:], " \t"))
		if !httpguts.ValidHeaderFieldValue(value) {
			return newParseError("invalid header value", name)
		}
		h.headers = append(h.headers, HeaderField{Name: name, Value: value})
	}
	return
}

func nextLine(b []byte) ([]byte, []byte, error) {
	nNext := bytes.IndexByte(b, nChar)
	if nNext < 0 {
		return nil, nil, errNeedMore
	}
	n := nNext
	if n > 0 && b[n-1] == rChar {
		n--
	}
	return b[:n], b[nNext+1:], nil
}

func mustPeekBuffered(r *bufio.Reader) []byte {
	buf, err := r.Peek(r.Buffered())
	if len(buf) == 0 || err != nil {
		panic(fmt.Sprintf("bufio.Reader.Peek() returned unexpected data (%q, %v)", buf, err))
	}
	return buf
}

func mustDiscard(r *bufio.Reader, n int) {
	if _, err := r.Discard(n); err != nil {
		panic(fmt.Sprintf("bufio.Reader.Discard(%d) failed: %v", n, err))
	}
}
