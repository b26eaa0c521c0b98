package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Content encodings understood by the generic codec.
const (
	EncodingZstd = "zstd"
	EncodingGzip = "gzip"
)

// Generic compresses without a shared dictionary. It backs the
// compress-generic branch of HTTP negotiation.
type Generic struct {
	zenc *zstd.Encoder
	zdec *zstd.Decoder

	gzipLevel int
	gzipPool  sync.Pool
}

// NewGeneric creates a Generic codec with the given zstd level.
func NewGeneric(level zstd.EncoderLevel) (*Generic, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, err
	}
	zdec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxDecodedSize))
	if err != nil {
		zenc.Close()
		return nil, err
	}
	g := &Generic{
		zenc:      zenc,
		zdec:      zdec,
		gzipLevel: gzip.DefaultCompression,
	}
	g.gzipPool.New = func() any {
		w, _ := gzip.NewWriterLevel(nil, g.gzipLevel)
		return w
	}
	return g, nil
}

// Encode compresses payload with the named encoding.
// Errors are returned as *EncodeError.
func (g *Generic) Encode(encoding string, payload []byte) ([]byte, error) {
	switch encoding {
	case EncodingZstd:
		return g.zenc.EncodeAll(payload, make([]byte, 0, len(payload)/2+64)), nil

	case EncodingGzip:
		var buf bytes.Buffer
		w := g.gzipPool.Get().(*gzip.Writer)
		w.Reset(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, &EncodeError{Err: err}
		}
		if err := w.Close(); err != nil {
			return nil, &EncodeError{Err: err}
		}
		g.gzipPool.Put(w)
		return buf.Bytes(), nil

	default:
		return nil, &EncodeError{Err: ErrUnsupportedEncoding}
	}
}

// Decode restores a payload produced by Encode.
// Errors are returned as *DecodeError.
func (g *Generic) Decode(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case EncodingZstd:
		out, err := g.zdec.DecodeAll(data, nil)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		return out, nil

	case EncodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, DefaultMaxDecodedSize))
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		return out, nil

	default:
		return nil, &DecodeError{Err: ErrUnsupportedEncoding}
	}
}
