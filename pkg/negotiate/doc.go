// Package negotiate compresses HTTP responses with the shared dictionary.
//
// Clients declare what they can decode with two request headers:
//
//	X-Dict-Version: 3
//	Accept-Encoding: zstd-dict, zstd, gzip
//
// Middleware buffers each response and, when the body is at least MinSize
// bytes, compresses it with dictionary v3 if the store still holds it, and
// otherwise with plain zstd or gzip. Responses carry Content-Encoding,
// X-Dict-Version (dictionary mode) and Vary: Accept-Encoding, X-Dict-Version.
//
// Transport is the matching http.RoundTripper for Go clients.
package negotiate
