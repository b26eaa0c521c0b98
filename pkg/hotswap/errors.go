package hotswap

import (
	"errors"
	"fmt"
)

// ErrStaleDictionary is reported when a fetch returns an older version than
// the one requested. The fetch is retried.
var ErrStaleDictionary = errors.New("hotswap: fetched dictionary older than requested")

// FetchError reports a failed dictionary fetch. It is never fatal: the
// tracker stays on its previous dictionary and retries with backoff.
type FetchError struct {
	Version uint32 // requested version, 0 for the current one
	Err     error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("hotswap: fetch current dictionary: %v", e.Err)
	}
	return fmt.Sprintf("hotswap: fetch dictionary v%d: %v", e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}
