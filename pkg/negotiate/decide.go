package negotiate

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// Mode is the per-request compression decision.
type Mode uint8

const (
	ModePassthrough Mode = iota
	ModeDictionary       // zstd with the shared dictionary
	ModeZstd             // zstd without dictionary
	ModeGzip             // gzip
)

// String returns the content coding for the mode, or "identity".
func (m Mode) String() string {
	switch m {
	case ModeDictionary:
		return protocol.EncodingZstdDict
	case ModeZstd:
		return codec.EncodingZstd
	case ModeGzip:
		return codec.EncodingGzip
	default:
		return "identity"
	}
}

// Lookuper resolves a dictionary version the client declared.
type Lookuper interface {
	Lookup(version uint32) (*dictionary.Dictionary, bool)
}

// Decision is the outcome of negotiation for one request.
type Decision struct {
	Mode Mode
	Dict *dictionary.Dictionary // set for ModeDictionary
}

// Decide picks the encoding for a response to r. A client that declares a
// dictionary version the store still holds and accepts zstd-dict gets the
// dictionary; otherwise zstd, then gzip, then no compression.
func Decide(r *http.Request, store Lookuper) Decision {
	accepted := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))

	if accepted[protocol.EncodingZstdDict] {
		if v, ok := parseVersion(r.Header.Get(protocol.HeaderDictVersion)); ok {
			if d, ok := store.Lookup(v); ok {
				return Decision{Mode: ModeDictionary, Dict: d}
			}
		}
	}
	switch {
	case accepted[codec.EncodingZstd]:
		return Decision{Mode: ModeZstd}
	case accepted[codec.EncodingGzip], accepted["*"]:
		return Decision{Mode: ModeGzip}
	default:
		return Decision{Mode: ModePassthrough}
	}
}

// parseAcceptEncoding returns the codings with a non-zero quality.
func parseAcceptEncoding(header string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding == "" {
			continue
		}
		out[coding] = qualityNonZero(params)
	}
	return out
}

func qualityNonZero(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q > 0
	}
	return true
}

func parseVersion(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint32(v), true
}
