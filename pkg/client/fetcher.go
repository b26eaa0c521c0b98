package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// ErrDigestMismatch is returned when fetched bytes do not match the
// X-Dict-Digest header.
var ErrDigestMismatch = errors.New("client: dictionary digest mismatch")

var _ hotswap.Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches dictionaries from a GhostWatch server.
type HTTPFetcher struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Fetch retrieves the given version, or the current one for version 0.
// Every failure is a *hotswap.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, version uint32) (*dictionary.Dictionary, error) {
	d, err := f.fetch(ctx, version)
	if err != nil {
		return nil, &hotswap.FetchError{Version: version, Err: err}
	}
	return d, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, version uint32) (*dictionary.Dictionary, error) {
	url := strings.TrimRight(f.BaseURL, "/") + "/dictionary"
	if version > 0 {
		url += "/" + strconv.FormatUint(uint64(version), 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	hc := f.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	got, err := strconv.ParseUint(resp.Header.Get(protocol.HeaderDictVersion), 10, 32)
	if err != nil || got == 0 {
		return nil, fmt.Errorf("GET %s: invalid %s header %q", url,
			protocol.HeaderDictVersion, resp.Header.Get(protocol.HeaderDictVersion))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, dictionary.MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > dictionary.MaxSize {
		return nil, fmt.Errorf("GET %s: dictionary exceeds %d bytes", url, dictionary.MaxSize)
	}

	if want := resp.Header.Get(protocol.HeaderDictDigest); want != "" && want != dictionary.Digest(data) {
		return nil, ErrDigestMismatch
	}

	created := time.Now()
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		created = t
	}
	return dictionary.New(uint32(got), data, created)
}
