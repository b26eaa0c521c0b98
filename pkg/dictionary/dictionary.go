package dictionary

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Dictionary errors.
var (
	// ErrInvalidVersion is returned when a dictionary version is zero.
	ErrInvalidVersion = errors.New("dictionary: version must be >= 1")

	// ErrEmpty is returned when a dictionary has no content.
	ErrEmpty = errors.New("dictionary: empty content")

	// ErrDictionaryMissing is returned when the startup dictionary does not exist.
	ErrDictionaryMissing = errors.New("dictionary: not found")
)

// Dictionary is an immutable, versioned compression dictionary.
//
// A *Dictionary obtained from Store.Current is the snapshot a compress or
// decompress call holds for its whole duration. Since nothing in a Dictionary
// changes after New returns, holding the pointer is enough to pin the version.
type Dictionary struct {
	version   uint32
	data      []byte
	createdAt time.Time
	digest    string
}

// New creates a dictionary. The content is copied so later changes to data
// do not affect the dictionary.
func New(version uint32, data []byte, createdAt time.Time) (*Dictionary, error) {
	if version == 0 {
		return nil, ErrInvalidVersion
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return &Dictionary{
		version:   version,
		data:      buf,
		createdAt: createdAt,
		digest:    Digest(buf),
	}, nil
}

// Version returns the dictionary version.
func (d *Dictionary) Version() uint32 {
	return d.version
}

// Bytes returns the dictionary content. Callers must not modify it.
func (d *Dictionary) Bytes() []byte {
	return d.data
}

// Len returns the content size in bytes.
func (d *Dictionary) Len() int {
	return len(d.data)
}

// CreatedAt returns when the dictionary was constructed.
func (d *Dictionary) CreatedAt() time.Time {
	return d.createdAt
}

// Digest returns the hex BLAKE3-256 digest of the content.
func (d *Dictionary) Digest() string {
	return d.digest
}

// String returns a short description for logs.
func (d *Dictionary) String() string {
	return fmt.Sprintf("v%d (%d bytes, %s)", d.version, len(d.data), d.digest[:12])
}

// Digest computes the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
