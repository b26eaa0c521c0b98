package protocol

// HTTP headers and content coding used for dictionary negotiation.
const (
	// HeaderDictVersion carries a dictionary version: on requests the
	// version the client holds, on responses the version the body (or the
	// served dictionary) uses.
	HeaderDictVersion = "X-Dict-Version"

	// HeaderDictDigest carries the hex BLAKE3-256 digest of a served dictionary.
	HeaderDictDigest = "X-Dict-Digest"

	// EncodingZstdDict is the content coding for zstd with the shared dictionary.
	EncodingZstdDict = "zstd-dict"
)
