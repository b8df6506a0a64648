package pipehttp

import (
	"errors"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func head(method string, v Version, kv ...string) *RequestHead {
	var hs []HeaderField
	for i := 0; i+1 < len(kv); i += 2 {
		hs = append(hs, HeaderField{Name: kv[i], Value: kv[i+1]})
	}
	return NewRequestHead(method, "/", v, hs...)
}

func TestDecideFraming(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		h    *RequestHead
		kind BodyKind
		cl   int64
		err  error
	}{
		{"no body", head("GET", HTTP11), BodyNone, 0, nil},
		{"zero length", head("POST", HTTP11, "Content-Length", "0"), BodyNone, 0, nil},
		{"fixed", head("POST", HTTP11, "Content-Length", "12"), BodyFixed, 12, nil},
		{"chunked", head("POST", HTTP11, "Transfer-Encoding", "chunked"), BodyChunked, -1, nil},
		{"chunked mixed case", head("POST", HTTP11, "Transfer-Encoding", "gzip, Chunked"), BodyChunked, -1, nil},
		{"chunked and length", head("POST", HTTP11, "Transfer-Encoding", "chunked", "Content-Length", "3"), 0, 0, ErrAmbiguousFraming},
		{"duplicate length", head("POST", HTTP11, "Content-Length", "3", "Content-Length", "3"), 0, 0, ErrDuplicateContentLength},
		{"differing length", head("POST", HTTP11, "Content-Length", "3", "Content-Length", "4"), 0, 0, ErrDuplicateContentLength},
		{"negative length", head("POST", HTTP11, "Content-Length", "-1"), 0, 0, ErrInvalidContentLength},
		{"garbage length", head("POST", HTTP11, "Content-Length", "1x"), 0, 0, ErrInvalidContentLength},
		{"not chunked", head("POST", HTTP11, "Transfer-Encoding", "gzip"), 0, 0, ErrUnsupportedTransferCoding},
		{"chunked not last", head("POST", HTTP11, "Transfer-Encoding", "chunked, gzip"), 0, 0, ErrUnsupportedTransferCoding},
		{"too large", head("POST", HTTP11, "Content-Length", "101"), 0, 0, ErrBodyTooLarge},
		{"upgrade", head("GET", HTTP11, "Upgrade", "websocket", "Connection", "Upgrade"), BodyUpgrade, 0, nil},
		{"upgrade without connection token", head("GET", HTTP11, "Upgrade", "websocket"), BodyNone, 0, nil},
		{"upgrade with body", head("POST", HTTP11, "Upgrade", "x", "Connection", "upgrade", "Content-Length", "2"), BodyFixed, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := decideFraming(tt.h, ParseConnectionOptions(tt.h), 100)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
				return
			}
			assert.NoErr(t, err)
			assert.Eq(t, tt.kind, f.Kind)
			assert.Eq(t, tt.cl, f.ContentLength)
		})
	}
}

func TestFramingErrorsAreParseErrors(t *testing.T) {
	t.Parallel()
	for _, err := range []error{ErrAmbiguousFraming, ErrDuplicateContentLength, ErrInvalidContentLength, ErrUnsupportedTransferCoding} {
		assert.True(t, IsParseError(err))
	}
	// answered with 413 instead of 400.
	assert.False(t, IsParseError(ErrBodyTooLarge))
}

func TestBodyKindString(t *testing.T) {
	t.Parallel()
	assert.Eq(t, "chunked", BodyChunked.String())
	assert.Eq(t, "upgrade", BodyUpgrade.String())
	assert.Eq(t, "unknown", BodyKind(42).String())
	assert.True(t, Framing{Kind: BodyFixed}.HasBody())
	assert.False(t, Framing{Kind: BodyUpgrade}.HasBody())
}
