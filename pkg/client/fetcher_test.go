package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

func TestHTTPFetcher(t *testing.T) {
	srv, ts := startServer(t)
	f := &HTTPFetcher{BaseURL: ts.URL + "/"}

	for _, v := range []uint32{0, 1} {
		d, err := f.Fetch(context.Background(), v)
		if err != nil {
			t.Fatalf("Fetch(%d) error = %v", v, err)
		}
		if d.Version() != 1 || !bytes.Equal(d.Bytes(), srv.Store().Current().Bytes()) {
			t.Fatalf("Fetch(%d) = %v, want current v1", v, d)
		}
	}

	_, err := f.Fetch(context.Background(), 9)
	var fe *hotswap.FetchError
	if !errors.As(err, &fe) || fe.Version != 9 {
		t.Fatalf("Fetch(9) error = %v, want *FetchError for v9", err)
	}
}

func TestHTTPFetcher_Rejects(t *testing.T) {
	content := []byte(sampleDict)
	tests := []struct {
		name    string
		version string
		digest  string
		status  int
		wantErr error
	}{
		{name: "digest_mismatch", version: "1", digest: "00ff", status: http.StatusOK, wantErr: ErrDigestMismatch},
		{name: "missing_version", version: "", status: http.StatusOK},
		{name: "zero_version", version: "0", status: http.StatusOK},
		{name: "server_error", version: "1", status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.version != "" {
					w.Header().Set(protocol.HeaderDictVersion, tc.version)
				}
				if tc.digest != "" {
					w.Header().Set(protocol.HeaderDictDigest, tc.digest)
				}
				w.WriteHeader(tc.status)
				w.Write(content)
			}))
			defer ts.Close()

			_, err := (&HTTPFetcher{BaseURL: ts.URL}).Fetch(context.Background(), 0)
			var fe *hotswap.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Fetch() error = %v, want *FetchError", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("Fetch() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestHTTPFetcher_VerifiesDigest(t *testing.T) {
	content := []byte(sampleDict)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(protocol.HeaderDictVersion, "3")
		w.Header().Set(protocol.HeaderDictDigest, dictionary.Digest(content))
		w.Write(content)
	}))
	defer ts.Close()

	d, err := (&HTTPFetcher{BaseURL: ts.URL}).Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if d.Version() != 3 || d.Digest() != dictionary.Digest(content) {
		t.Fatalf("Fetch() = %v", d)
	}
}
