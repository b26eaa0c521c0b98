package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

const (
	// DefaultMaxDecodedSize bounds the memory a single decode may use.
	DefaultMaxDecodedSize = 64 << 20

	// DefaultCacheSize is the number of dictionaries with live encoders/decoders.
	DefaultCacheSize = 4

	// zstdDictMagic starts dictionaries produced by `zstd --train`.
	zstdDictMagic = 0xEC30A437
)

// Compressor compresses a payload against a dictionary snapshot.
type Compressor interface {
	Compress(payload []byte, dict *dictionary.Dictionary) ([]byte, error)
}

// Decompressor restores a payload compressed against a dictionary snapshot.
type Decompressor interface {
	Decompress(data []byte, dict *dictionary.Dictionary) ([]byte, error)
}

// Codec is a zstd dictionary compressor/decompressor.
//
// Encoders and decoders are built lazily per dictionary and cached; both are
// safe for concurrent EncodeAll/DecodeAll so one instance serves every
// connection. Compress and Decompress never modify the dictionary.
type Codec struct {
	level      zstd.EncoderLevel
	maxDecoded uint64
	cacheSize  int

	mu      sync.Mutex
	entries map[*dictionary.Dictionary]*entry
	order   []*dictionary.Dictionary // insertion order, oldest first
}

type entry struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

// Option configures a Codec.
type Option func(*Codec)

// WithLevel sets the zstd encoder level.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// WithMaxDecodedSize bounds decompressed output per frame.
func WithMaxDecodedSize(n uint64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecoded = n
		}
	}
}

// WithCacheSize sets how many dictionaries keep live encoders/decoders.
func WithCacheSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// ParseLevel maps "fastest", "default", "better" or "best" to a zstd level.
func ParseLevel(s string) (zstd.EncoderLevel, error) {
	if s == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(s)
	if !ok {
		return 0, fmt.Errorf("codec: unknown compression level %q", s)
	}
	return level, nil
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		level:      zstd.SpeedDefault,
		maxDecoded: DefaultMaxDecodedSize,
		cacheSize:  DefaultCacheSize,
		entries:    make(map[*dictionary.Dictionary]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress compresses payload against dict.
// Errors are returned as *EncodeError.
func (c *Codec) Compress(payload []byte, dict *dictionary.Dictionary) ([]byte, error) {
	e := c.entry(dict)
	if e.err != nil {
		return nil, &EncodeError{Version: dict.Version(), Err: e.err}
	}
	return e.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2+64)), nil
}

// Decompress restores data compressed against dict.
// Errors are returned as *DecodeError.
func (c *Codec) Decompress(data []byte, dict *dictionary.Dictionary) ([]byte, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Version: dict.Version(), Err: ErrEmptyPayload}
	}
	e := c.entry(dict)
	if e.err != nil {
		return nil, &DecodeError{Version: dict.Version(), Err: e.err}
	}
	out, err := e.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, &DecodeError{Version: dict.Version(), Err: err}
	}
	return out, nil
}

// entry returns the initialized cache entry for dict.
func (c *Codec) entry(dict *dictionary.Dictionary) *entry {
	c.mu.Lock()
	e, ok := c.entries[dict]
	if !ok {
		e = &entry{}
		c.entries[dict] = e
		c.order = append(c.order, dict)
		// Evicted encoders/decoders are left to the GC: an in-flight call may
		// still hold them, and EncodeAll/DecodeAll start no goroutines.
		for len(c.order) > c.cacheSize {
			delete(c.entries, c.order[0])
			c.order[0] = nil
			c.order = c.order[1:]
		}
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.enc, e.dec, e.err = c.build(dict)
	})
	return e
}

func (c *Codec) build(dict *dictionary.Dictionary) (*zstd.Encoder, *zstd.Decoder, error) {
	content := dict.Bytes()

	var eopt zstd.EOption
	var dopt zstd.DOption
	if isZstdDictionary(content) {
		eopt = zstd.WithEncoderDict(content)
		dopt = zstd.WithDecoderDicts(content)
	} else {
		// Raw content dictionaries carry the version as their id, so frames
		// made with another version fail with ErrUnknownDictionary.
		eopt = zstd.WithEncoderDictRaw(dict.Version(), content)
		dopt = zstd.WithDecoderDictRaw(dict.Version(), content)
	}

	enc, err := zstd.NewWriter(nil,
		eopt,
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		dopt,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(c.maxDecoded),
	)
	if err != nil {
		enc.Close()
		return nil, nil, fmt.Errorf("build decoder: %w", err)
	}
	return enc, dec, nil
}

func isZstdDictionary(b []byte) bool {
	return len(b) >= 8 && binary.LittleEndian.Uint32(b) == zstdDictMagic
}
