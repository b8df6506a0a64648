package pipehttp

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// badRequestResponse is queued as the last response of a connection whose
// request head could not be parsed.
const badRequestResponse = "HTTP/1.0 400 Bad Request\r\nConnection: close\r\n\r\n"

const continueResponse = "HTTP/1.1 100 Continue\r\n\r\n"

const errorHeaders = "\r\nContent-Type: text/plain; charset=utf-8"

// errHTTPResponseStr builds a complete plain text response. Content-Length is
// always set so the response can be followed by pipelined siblings.
func errHTTPResponseStr(statusCode int, body string, closeConn bool, extraHeaders []string) (resp string) {
	if len(body) == 0 {
		body = http.StatusText(statusCode)
	}
	body = strconv.Itoa(statusCode) + " " + body
	var extraHeadersStr string
	if len(extraHeaders) != 0 {
		extraHeadersStr = "\r\n" + strings.Join(extraHeaders, "\r\n")
	}
	if closeConn {
		extraHeadersStr += "\r\nConnection: close"
	}
	resp = fmt.Sprintf("HTTP/1.1 %d %s%s%s\r\nContent-Length: %d\r\n\r\n%s",
		statusCode, http.StatusText(statusCode), extraHeadersStr, errorHeaders, len(body), body)
	return
}

var (
	concurrencyLimitErr      = errHTTPResponseStr(http.StatusServiceUnavailable, "The server is currently temporary overloading", false, []string{"Retry-After: 10"})
	concurrencyLimitCloseErr = errHTTPResponseStr(http.StatusServiceUnavailable, "The server is currently temporary overloading", true, []string{"Retry-After: 10"})
	internalServerErr        = errHTTPResponseStr(http.StatusInternalServerError, "", false, nil)
	internalServerCloseErr   = errHTTPResponseStr(http.StatusInternalServerError, "", true, nil)
	requestEntityTooLargeErr = errHTTPResponseStr(http.StatusRequestEntityTooLarge, "", true, nil)
)

// appendResponseHead appends a status line and the standard headers.
// contentLength < 0 selects chunked transfer coding.
func appendResponseHead(dst []byte, status int, serverName, contentType string, contentLength int64, closeConn, keepAlive10 bool) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, http.StatusText(status)...)
	dst = append(dst, strCRLF...)
	if serverName != "" {
		dst = appendHeaderLine(dst, "Server", serverName)
	}
	if contentType != "" {
		dst = appendHeaderLine(dst, "Content-Type", contentType)
	}
	if bodyAllowedForStatus(status) {
		if contentLength < 0 {
			dst = appendHeaderLine(dst, "Transfer-Encoding", "chunked")
		} else {
			dst = append(dst, "Content-Length: "...)
			dst = strconv.AppendInt(dst, contentLength, 10)
			dst = append(dst, strCRLF...)
		}
	}
	if closeConn {
		dst = appendHeaderLine(dst, "Connection", "close")
	} else if keepAlive10 {
		dst = appendHeaderLine(dst, "Connection", "keep-alive")
	}
	return dst
}

func appendHeaderLine(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, strCRLF...)
}

// bodyAllowedForStatus reports whether a given response status code
// permits a body. See RFC 7230, section 3.3.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent:
		return false
	case status == http.StatusNotModified:
		return false
	}
	return true
}

func parseChunkSize(r *bufio.Reader) (n int, err error) {
	n, err = readHexInt(r)
	if err != nil {
		n = -1
		return
	}
	var c byte
	for {
		c, err = r.ReadByte()
		if err != nil {
			n = -1
			return
		}
		// Skip chunk extension after chunk size.
		if c != rChar {
			if c == nChar {
				return -1, ErrBrokenChunk{error: errors.New("bare LF after chunk size")}
			}
			continue
		}
		if err = r.UnreadByte(); err != nil {
			n = -1
			return
		}
		break
	}
	err = readCrLf(r)
	if err != nil {
		n = -1
		return
	}
	return
}

func readCrLf(r *bufio.Reader) error {
	for _, exp := range strCRLF {
		c, err := r.ReadByte()
		if err != nil {
			return err
		}
		if c != exp {
			return ErrBrokenChunk{
				error: errors.New(`unexpected char "` + string(c) + `" at the end of chunk size. Expected "` + string(exp) + `"`),
			}
		}
	}
	return nil
}

const maxHexIntChars = 15

var (
	errEmptyHexNum    = ErrBrokenChunk{error: errors.New("empty hex number")}
	errTooLargeHexNum = ErrBrokenChunk{error: errors.New("too large hex number")}
)

func readHexInt(r *bufio.Reader) (int, error) {
	var n, i int
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return n, nil
			}
			return -1, err
		}
		k := hexValue(c)
		if k < 0 {
			if i == 0 {
				return -1, errEmptyHexNum
			}
			if err = r.UnreadByte(); err != nil {
				return -1, err
			}
			return n, nil
		}
		if i >= maxHexIntChars {
			return -1, errTooLargeHexNum
		}
		n = (n << 4) | k
		i++
	}
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func appendChunk(dst, p []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, strCRLF...)
	dst = append(dst, p...)
	return append(dst, strCRLF...)
}

const lastChunk = "0\r\n\r\n"
