package codec

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrEmptyPayload is returned when decompressing zero bytes.
	ErrEmptyPayload = errors.New("codec: empty payload")

	// ErrUnsupportedEncoding is returned for content encodings the codec does not implement.
	ErrUnsupportedEncoding = errors.New("codec: unsupported encoding")
)

// DecodeError reports a payload that could not be decompressed: malformed
// bytes, a failed checksum, or a frame produced with a different dictionary.
// Frames that fail with a DecodeError are poison frames and must be dropped
// without forwarding their bytes anywhere.
type DecodeError struct {
	Version uint32 // dictionary version the decode was attempted with, 0 if none
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("codec: decode: %v", e.Err)
	}
	return fmt.Sprintf("codec: decode with dictionary v%d: %v", e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a compression failure. Callers fall back to sending the
// payload uncompressed.
type EncodeError struct {
	Version uint32
	Err     error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	if e.Version == 0 {
		return fmt.Sprintf("codec: encode: %v", e.Err)
	}
	return fmt.Sprintf("codec: encode with dictionary v%d: %v", e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
