package codec

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

const sampleDict = `{"metric":"cpu_usage","value":0,"time":0}{"metric":"mem_usage","value":0,"time":0}{"schema":"telemetry_v1","data":""}`

func testDict(t testing.TB, version uint32) *dictionary.Dictionary {
	t.Helper()
	d, err := dictionary.New(version, []byte(strings.Repeat(sampleDict, 4)), time.Now())
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}
	return d
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	c := New()
	d := testDict(t, 1)

	payloads := [][]byte{
		[]byte(`[{"metric":"cpu_usage","value":42.5,"time":1700000000000}]`),
		[]byte(strings.Repeat(`{"schema":"telemetry_v1","data":"XXXX"}`, 200)),
		[]byte(`x`),
	}
	for _, p := range payloads {
		compressed, err := c.Compress(p, d)
		if err != nil {
			t.Fatalf("Compress() error: %v", err)
		}
		got, err := c.Decompress(compressed, d)
		if err != nil {
			t.Fatalf("Decompress() error: %v", err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("round trip mismatch: got %q want %q", got, p)
		}
	}
}

func TestCompress_Deterministic(t *testing.T) {
	c := New()
	d := testDict(t, 1)
	p := []byte(`[{"metric":"cpu_usage","value":1}]`)

	a, err := c.Compress(p, d)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	b, err := New().Compress(p, d)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("Compress() output differs for the same dictionary and payload")
	}
}

func TestCompress_DictionaryImprovesSmallPayloads(t *testing.T) {
	d := testDict(t, 1)
	p := []byte(`{"metric":"cpu_usage","value":0,"time":0}`)

	withDict, err := New().Compress(p, d)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	g, err := NewGeneric(zstd.SpeedDefault)
	if err != nil {
		t.Fatalf("NewGeneric() error: %v", err)
	}
	plain, err := g.Encode(EncodingZstd, p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(withDict) >= len(plain) {
		t.Fatalf("dictionary output %d bytes, plain %d bytes; want dictionary smaller", len(withDict), len(plain))
	}
}

func TestDecompress_CorruptedFrameIsDecodeError(t *testing.T) {
	c := New()
	d := testDict(t, 1)
	compressed, err := c.Compress([]byte(strings.Repeat(`{"metric":"cpu_usage"}`, 50)), d)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}

	corrupted := append([]byte(nil), compressed...)
	corrupted[len(corrupted)/2] ^= 0xFF

	_, err = c.Decompress(corrupted, d)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Decompress(corrupted) error=%v, want *DecodeError", err)
	}
	if de.Version != 1 {
		t.Fatalf("DecodeError.Version=%d, want 1", de.Version)
	}
}

func TestDecompress_WrongDictionaryIsDecodeError(t *testing.T) {
	c := New()
	v1 := testDict(t, 1)
	v2, err := dictionary.New(2, []byte("a completely different dictionary body"), time.Now())
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}

	compressed, err := c.Compress([]byte(`[{"metric":"cpu_usage"}]`), v1)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if _, err := c.Decompress(compressed, v2); !IsDecodeError(err) {
		t.Fatalf("Decompress with v2 error=%v, want DecodeError", err)
	}
}

func TestDecompress_Garbage(t *testing.T) {
	c := New()
	d := testDict(t, 1)
	for _, in := range [][]byte{nil, []byte("not a valid zstd stream")} {
		if _, err := c.Decompress(in, d); !IsDecodeError(err) {
			t.Errorf("Decompress(%q) error=%v, want DecodeError", in, err)
		}
	}
}

func TestCodec_CacheEvictionKeepsWorking(t *testing.T) {
	c := New(WithCacheSize(2))
	dicts := []*dictionary.Dictionary{testDict(t, 1), testDict(t, 2), testDict(t, 3)}
	p := []byte(`[{"metric":"cpu_usage","value":3}]`)

	for _, d := range dicts {
		if _, err := c.Compress(p, d); err != nil {
			t.Fatalf("Compress(v%d) error: %v", d.Version(), err)
		}
	}
	if len(c.entries) != 2 {
		t.Fatalf("cache entries=%d, want 2", len(c.entries))
	}

	// v1 was evicted and must be rebuilt transparently.
	out, err := c.Compress(p, dicts[0])
	if err != nil {
		t.Fatalf("Compress(v1) after eviction error: %v", err)
	}
	got, err := c.Decompress(out, dicts[0])
	if err != nil || !bytes.Equal(got, p) {
		t.Fatalf("Decompress(v1) after eviction = %q, %v", got, err)
	}
}

func TestCodec_ConcurrentUse(t *testing.T) {
	c := New()
	d := testDict(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := []byte(strings.Repeat(`{"metric":"cpu_usage"}`, i+1))
			out, err := c.Compress(p, d)
			if err != nil {
				t.Errorf("Compress() error: %v", err)
				return
			}
			got, err := c.Decompress(out, d)
			if err != nil || !bytes.Equal(got, p) {
				t.Errorf("Decompress() = %q, %v", got, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zstd.EncoderLevel
		wantErr bool
	}{
		{"", zstd.SpeedDefault, false},
		{"fastest", zstd.SpeedFastest, false},
		{"default", zstd.SpeedDefault, false},
		{"better", zstd.SpeedBetterCompression, false},
		{"best", zstd.SpeedBestCompression, false},
		{"ultra", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error=%v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLevel(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestGeneric_RoundTrip(t *testing.T) {
	g, err := NewGeneric(zstd.SpeedFastest)
	if err != nil {
		t.Fatalf("NewGeneric() error: %v", err)
	}
	p := []byte(strings.Repeat("X", 4096))

	for _, enc := range []string{EncodingZstd, EncodingGzip} {
		out, err := g.Encode(enc, p)
		if err != nil {
			t.Fatalf("Encode(%s) error: %v", enc, err)
		}
		if len(out) >= len(p) {
			t.Errorf("Encode(%s) did not shrink payload: %d >= %d", enc, len(out), len(p))
		}
		got, err := g.Decode(enc, out)
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", enc, err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("Decode(%s) mismatch", enc)
		}
	}

	var ee *EncodeError
	if _, err := g.Encode("br", p); !errors.As(err, &ee) || !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("Encode(br) error=%v, want EncodeError wrapping ErrUnsupportedEncoding", err)
	}
}
