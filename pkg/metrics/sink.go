package metrics

// Protocol labels.
const (
	ProtocolHTTP = "http"
	ProtocolWS   = "ws"
)

// Drop reasons.
const (
	ReasonQueueFull   = "queue_full"
	ReasonClosed      = "closed"
	ReasonReplayFull  = "replay_full"
	ReasonWriteFailed = "write_failed"
)

// Sink receives compression-layer events. Implementations must be safe for
// concurrent use; values may be approximate.
type Sink interface {
	// RecordCompression records one compressed HTTP body or WebSocket frame.
	RecordCompression(proto string, original, compressed int)

	// RecordPoisonFrame records a frame dropped because it failed to decode.
	RecordPoisonFrame(proto string)

	// RecordDropped records n messages discarded for reason.
	RecordDropped(proto, reason string, n int)

	// RecordFallback records a payload sent uncompressed after an encode failure.
	RecordFallback(proto string)

	// RecordSwap records activation of a dictionary version.
	RecordSwap(version uint32)

	// RecordBroadcastFailure records a control frame that could not be
	// delivered to one peer.
	RecordBroadcastFailure()

	// SetConnections reports the number of open WebSocket connections.
	SetConnections(n int)

	// SetChannels reports the number of live channels.
	SetChannels(n int)
}

// Nop discards every event.
type Nop struct{}

var _ Sink = Nop{}

func (Nop) RecordCompression(string, int, int) {}
func (Nop) RecordPoisonFrame(string)           {}
func (Nop) RecordDropped(string, string, int)  {}
func (Nop) RecordFallback(string)              {}
func (Nop) RecordSwap(uint32)                  {}
func (Nop) RecordBroadcastFailure()            {}
func (Nop) SetConnections(int)                 {}
func (Nop) SetChannels(int)                    {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
