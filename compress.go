package pipehttp

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp/stackless"
)

// Supported compression levels.
const (
	CompressNoCompression      = flate.NoCompression
	CompressBestSpeed          = flate.BestSpeed
	CompressBestCompression    = flate.BestCompression
	CompressDefaultCompression = -1 // flate.DefaultCompression
	CompressHuffmanOnly        = -2 // flate.HuffmanOnly
)

var (
	gzipReaderPool   sync.Pool
	flateReaderPool  sync.Pool
	zstdReaderPool   sync.Pool
	brotliReaderPool sync.Pool
)

func acquireGzipReader(r io.Reader) (*gzip.Reader, error) {
	v := gzipReaderPool.Get()
	if v == nil {
		return gzip.NewReader(r)
	}
	zr := v.(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		return nil, err
	}
	return zr, nil
}

func releaseGzipReader(zr *gzip.Reader) {
	_ = zr.Close()
	gzipReaderPool.Put(zr)
}

func acquireFlateReader(r io.Reader) (io.ReadCloser, error) {
	v := flateReaderPool.Get()
	if v == nil {
		return flate.NewReader(r), nil
	}
	zr := v.(io.ReadCloser)
	if err := zr.(flate.Resetter).Reset(r, nil); err != nil {
		return nil, err
	}
	return zr, nil
}

func releaseFlateReader(zr io.ReadCloser) {
	_ = zr.Close()
	flateReaderPool.Put(zr)
}

func acquireZstdReader(r io.Reader) (*zstd.Decoder, error) {
	v := zstdReaderPool.Get()
	if v == nil {
		return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	}
	zr := v.(*zstd.Decoder)
	if err := zr.Reset(r); err != nil {
		return nil, err
	}
	return zr, nil
}

func releaseZstdReader(zr *zstd.Decoder) {
	// Reset(nil) drops the reference to the body but keeps the decoder usable.
	_ = zr.Reset(nil)
	zstdReaderPool.Put(zr)
}

func acquireBrotliReader(r io.Reader) (*brotli.Reader, error) {
	v := brotliReaderPool.Get()
	if v == nil {
		return brotli.NewReader(r), nil
	}
	br := v.(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		return nil, err
	}
	return br, nil
}

func releaseBrotliReader(br *brotli.Reader) {
	brotliReaderPool.Put(br)
}

// decodedBody returns its decoder to the pool on Close.
type decodedBody struct {
	io.Reader
	once    sync.Once
	release func()
}

func (d *decodedBody) Close() error {
	d.once.Do(d.release)
	return nil
}

// DecodedBody returns the request body with its Content-Encoding removed.
// gzip, deflate, br and zstd are supported, anything else fails with
// ErrContentEncodingUnsupported. No Content-Encoding yields the raw body.
//
// The decoder is released when the handler returns.
func (rc *RequestCtx) DecodedBody() (io.Reader, error) {
	if rc.decoded != nil {
		return rc.decoded, nil
	}
	coding := strings.ToLower(strings.TrimSpace(rc.head.Get("Content-Encoding")))
	var (
		r       io.Reader
		release func()
	)
	switch coding {
	case "", "identity":
		return rc.body, nil
	case "gzip", "x-gzip":
		zr, err := acquireGzipReader(rc.body)
		if err != nil {
			return nil, errors.Wrap(err, "cannot read gzip header")
		}
		r, release = zr, func() { releaseGzipReader(zr) }
	case "deflate":
		zr, err := acquireFlateReader(rc.body)
		if err != nil {
			return nil, err
		}
		r, release = zr, func() { releaseFlateReader(zr) }
	case "zstd":
		zr, err := acquireZstdReader(rc.body)
		if err != nil {
			return nil, err
		}
		r, release = zr, func() { releaseZstdReader(zr) }
	case "br":
		br, err := acquireBrotliReader(rc.body)
		if err != nil {
			return nil, err
		}
		r, release = br, func() { releaseBrotliReader(br) }
	default:
		return nil, errors.WithMessage(ErrContentEncodingUnsupported, coding)
	}
	d := &decodedBody{Reader: r, release: release}
	rc.decoded = d
	return d, nil
}

// RespondCompressed is like Respond, but encodes body with the given
// Content-Encoding first. The coding is chosen by the handler; no
// negotiation with Accept-Encoding happens here.
func (rc *RequestCtx) RespondCompressed(status int, contentType, encoding string, body []byte, extra ...HeaderField) error {
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	switch encoding {
	case "gzip":
		b.B = AppendGzipBytesLevel(b.B, body, CompressDefaultCompression)
	case "deflate":
		b.B = AppendDeflateBytesLevel(b.B, body, CompressDefaultCompression)
	case "zstd":
		b.B = AppendZstdBytes(b.B, body)
	case "br":
		b.B = AppendBrotliBytesLevel(b.B, body, brotli.DefaultCompression)
	default:
		return errors.WithMessage(ErrContentEncodingUnsupported, encoding)
	}
	extra = append(extra, HeaderField{Name: "Content-Encoding", Value: encoding})
	return rc.Respond(status, contentType, b.B, extra...)
}

func normalizeCompressLevel(level int) int {
	// -2 is the lowest compression level - CompressHuffmanOnly
	// 9 is the highest compression level - CompressBestCompression
	if level < -2 || level > 9 {
		level = CompressDefaultCompression
	}
	return level
}

// writer pools indexed by level + 2.
func newCompressWriterPoolMap() []*sync.Pool {
	m := make([]*sync.Pool, 12)
	for i := range m {
		m[i] = &sync.Pool{}
	}
	return m
}

var (
	stacklessGzipWriterPoolMap    = newCompressWriterPoolMap()
	stacklessDeflateWriterPoolMap = newCompressWriterPoolMap()
)

func acquireStacklessGzipWriter(w io.Writer, level int) stackless.Writer {
	p := stacklessGzipWriterPoolMap[level+2]
	v := p.Get()
	if v == nil {
		return stackless.NewWriter(w, func(w io.Writer) stackless.Writer {
			zw, _ := gzip.NewWriterLevel(w, level)
			return zw
		})
	}
	sw := v.(stackless.Writer)
	sw.Reset(w)
	return sw
}

func releaseStacklessGzipWriter(sw stackless.Writer, level int) {
	_ = sw.Close()
	stacklessGzipWriterPoolMap[level+2].Put(sw)
}

func acquireStacklessDeflateWriter(w io.Writer, level int) stackless.Writer {
	p := stacklessDeflateWriterPoolMap[level+2]
	v := p.Get()
	if v == nil {
		return stackless.NewWriter(w, func(w io.Writer) stackless.Writer {
			zw, _ := flate.NewWriter(w, level)
			return zw
		})
	}
	sw := v.(stackless.Writer)
	sw.Reset(w)
	return sw
}

func releaseStacklessDeflateWriter(sw stackless.Writer, level int) {
	_ = sw.Close()
	stacklessDeflateWriterPoolMap[level+2].Put(sw)
}

// AppendGzipBytesLevel appends gzipped src to dst using the given
// compression level and returns the resulting dst.
func AppendGzipBytesLevel(dst, src []byte, level int) []byte {
	w := bytes.NewBuffer(dst)
	level = normalizeCompressLevel(level)
	zw := acquireStacklessGzipWriter(w, level)
	_, _ = zw.Write(src)
	releaseStacklessGzipWriter(zw, level)
	return w.Bytes()
}

// AppendDeflateBytesLevel appends deflated src to dst using the given
// compression level and returns the resulting dst.
func AppendDeflateBytesLevel(dst, src []byte, level int) []byte {
	w := bytes.NewBuffer(dst)
	level = normalizeCompressLevel(level)
	zw := acquireStacklessDeflateWriter(w, level)
	_, _ = zw.Write(src)
	releaseStacklessDeflateWriter(zw, level)
	return w.Bytes()
}

var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
)

// AppendZstdBytes appends zstd compressed src to dst.
func AppendZstdBytes(dst, src []byte) []byte {
	zstdEncoderOnce.Do(func() {
		// EncodeAll is safe for concurrent use.
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	return zstdEncoder.EncodeAll(src, dst)
}

// brotli writers at the default level.
var brotliWriterPool sync.Pool

// AppendBrotliBytesLevel appends brotli compressed src to dst.
func AppendBrotliBytesLevel(dst, src []byte, level int) []byte {
	w := bytes.NewBuffer(dst)
	pooled := level == brotli.DefaultCompression
	var bw *brotli.Writer
	if v := brotliWriterPool.Get(); pooled && v != nil {
		bw = v.(*brotli.Writer)
		bw.Reset(w)
	} else {
		if v != nil {
			brotliWriterPool.Put(v)
		}
		bw = brotli.NewWriterLevel(w, level)
	}
	_, _ = bw.Write(src)
	_ = bw.Close()
	if pooled {
		brotliWriterPool.Put(bw)
	}
	return w.Bytes()
}
