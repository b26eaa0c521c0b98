package negotiate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// Transport is the client half of negotiation: it advertises the held
// dictionary and transparently decodes compressed responses.
type Transport struct {
	// Base performs the requests (default http.DefaultTransport).
	Base http.RoundTripper

	// Dictionary returns the dictionary the client holds, or nil.
	Dictionary func() *dictionary.Dictionary

	// Lookup resolves the version named by a response when it differs from
	// Dictionary(). Optional.
	Lookup Lookuper

	Codec   *codec.Codec
	Generic *codec.Generic
}

// NewTransport creates a Transport with default codecs.
func NewTransport(base http.RoundTripper, held func() *dictionary.Dictionary) (*Transport, error) {
	g, err := codec.NewGeneric(zstd.SpeedDefault)
	if err != nil {
		return nil, err
	}
	return &Transport{Base: base, Dictionary: held, Codec: codec.New(), Generic: g}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	codings := []string{codec.EncodingZstd, codec.EncodingGzip}
	var held *dictionary.Dictionary
	if t.Dictionary != nil {
		held = t.Dictionary()
	}
	if held != nil {
		codings = append([]string{protocol.EncodingZstdDict}, codings...)
		req.Header.Set(protocol.HeaderDictVersion, strconv.FormatUint(uint64(held.Version()), 10))
	}
	req.Header.Set("Accept-Encoding", strings.Join(codings, ", "))

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	encoding := resp.Header.Get("Content-Encoding")
	if encoding == "" || encoding == "identity" {
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	var out []byte
	switch encoding {
	case protocol.EncodingZstdDict:
		dict, err := t.responseDictionary(resp, held)
		if err != nil {
			return nil, err
		}
		out, err = t.Codec.Decompress(data, dict)
		if err != nil {
			return nil, err
		}
	default:
		out, err = t.Generic.Decode(encoding, data)
		if err != nil {
			return nil, err
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = int64(len(out))
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.Uncompressed = true
	return resp, nil
}

func (t *Transport) responseDictionary(resp *http.Response, held *dictionary.Dictionary) (*dictionary.Dictionary, error) {
	v, ok := parseVersion(resp.Header.Get(protocol.HeaderDictVersion))
	if !ok {
		return nil, fmt.Errorf("negotiate: %s response without valid %s", protocol.EncodingZstdDict, protocol.HeaderDictVersion)
	}
	if held != nil && held.Version() == v {
		return held, nil
	}
	if t.Lookup != nil {
		if d, ok := t.Lookup.Lookup(v); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("negotiate: response uses dictionary v%d which is not held", v)
}
