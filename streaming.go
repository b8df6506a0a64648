package pipehttp

import (
	"bufio"
	"io"
	"sync"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/pkg/errors"
)

const drainChunkSize = 16 * 1024

// requestBody is the body stream handed to a handler. It reads straight from
// the connection's bufio.Reader and never reads past the framed region, so the
// next request head starts exactly where this body ends.
//
// The main loop does not parse the next head until the body is released by
// Close. Whatever the handler left unread is then skipped by discardRest.
type requestBody struct {
	mu      sync.Mutex
	r       *bufio.Reader
	framing Framing
	// fixed: bytes left in the body; chunked: bytes left in the current chunk.
	left    int64
	total   int64
	maxSize int64
	// sticky read result, io.EOF once the body was fully consumed.
	err    error
	closed bool

	// beforeRead is called once before the first read, e.g. to send
	// 100 Continue to a client waiting for it.
	beforeRead func() error

	releaseOnce sync.Once
	released    chan struct{}
}

func newRequestBody(r *bufio.Reader, f Framing, maxSize int64) *requestBody {
	b := &requestBody{
		r:        r,
		framing:  f,
		maxSize:  maxSize,
		released: make(chan struct{}),
	}
	switch f.Kind {
	case BodyFixed:
		b.left = f.ContentLength
	case BodyChunked:
	default:
		b.err = io.EOF
	}
	return b
}

func (b *requestBody) Read(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBodyClosed
	}
	if b.err != nil {
		return 0, b.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f := b.beforeRead; f != nil {
		b.beforeRead = nil
		if err = f(); err != nil {
			b.err = err
			return
		}
	}
	if b.framing.Kind == BodyChunked {
		n, err = b.readChunked(p)
	} else {
		n, err = b.readFixed(p)
	}
	if err != nil {
		b.err = err
	}
	return
}

func (b *requestBody) readFixed(p []byte) (n int, err error) {
	if b.left == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err = b.r.Read(p)
	b.left -= int64(n)
	b.total += int64(n)
	if err == io.EOF {
		err = ErrUnexpectedReqBodyEOF
	}
	return
}

func (b *requestBody) readChunked(p []byte) (n int, err error) {
	if b.left == 0 {
		// read a chunk size and consume size + CRLF
		var chunkSize int
		if chunkSize, err = parseChunkSize(b.r); err != nil {
			return 0, unexpectedEOF(err)
		}
		if chunkSize == 0 {
			if err = skipTrailer(b.r); err != nil {
				return 0, unexpectedEOF(err)
			}
			return 0, io.EOF
		}
		if b.maxSize > 0 && b.total+int64(chunkSize) > b.maxSize {
			return 0, ErrBodyTooLarge
		}
		b.left = int64(chunkSize)
	}
	if int64(len(p)) > b.left {
		p = p[:b.left]
	}
	n, err = b.r.Read(p)
	b.left -= int64(n)
	b.total += int64(n)
	if err == nil && b.left == 0 {
		// consume every chunk's trailing CRLF
		err = readCrLf(b.r)
	}
	return n, unexpectedEOF(err)
}

func unexpectedEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrUnexpectedReqBodyEOF
	}
	return err
}

// Close releases the body back to the connection. Reads after Close fail
// with ErrBodyClosed. Close never blocks on the network.
func (b *requestBody) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.releaseOnce.Do(func() { close(b.released) })
	return nil
}

// skipContinue gives up on a body the client was never asked to send. It
// reports true when 100 Continue is still pending; the body then fails with
// errContinueNotSent and the connection can't serve another request.
func (b *requestBody) skipContinue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.beforeRead == nil || b.err != nil {
		return false
	}
	b.beforeRead = nil
	b.err = errContinueNotSent
	return true
}

// discardRest skips the unread remainder of a released body so the reader
// is positioned at the next request head.
//
// errContinueNotSent is returned when the client still waits for 100 Continue:
// it may never send the body, so the connection can't be reused.
func (b *requestBody) discardRest() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.beforeRead != nil {
		b.beforeRead = nil
		b.err = errContinueNotSent
		return b.err
	}
	if b.err == io.EOF {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	scratch := mcache.Malloc(drainChunkSize)
	defer mcache.Free(scratch)
	for {
		if b.framing.Kind == BodyChunked {
			_, err = b.readChunked(scratch)
		} else {
			_, err = b.readFixed(scratch)
		}
		if err != nil {
			b.err = err
			if err == io.EOF {
				return nil
			}
			return errors.WithMessage(err, "cannot skip unread request body")
		}
	}
}

// Total returns the number of body bytes consumed so far.
func (b *requestBody) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// skipTrailer consumes the trailer section after the last chunk.
// Trailer fields are not exposed to handlers.
func skipTrailer(r *bufio.Reader) error {
	for i := 0; ; i++ {
		line, err := r.ReadSlice(nChar)
		if err != nil {
			if err == bufio.ErrBufferFull {
				return ErrBrokenChunk{error: errors.New("trailer line too long")}
			}
			return err
		}
		if len(line) == 1 || (len(line) == 2 && line[0] == rChar) {
			return nil
		}
		if i >= maxTrailerLines {
			return ErrBrokenChunk{error: errors.New("too many trailer fields")}
		}
	}
}

const maxTrailerLines = 64
