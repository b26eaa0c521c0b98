// Package codec wraps zstd for dictionary-primed compression.
//
// Codec compresses and decompresses payloads against a *dictionary.Dictionary
// snapshot. Generic provides dictionary-less zstd and gzip for HTTP clients
// that have not fetched the shared dictionary.
//
// Decompression failures are *DecodeError. A frame that fails to decode is a
// poison frame: drop it, count it, and never pass its bytes on as if they were
// plaintext. Compression failures are *EncodeError; senders fall back to the
// uncompressed payload so outbound data is never lost.
package codec
