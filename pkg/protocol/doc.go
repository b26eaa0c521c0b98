// Package protocol implements the GhostWatch wire format for WebSocket streams.
//
// Two kinds of frames travel on a connection:
//
//   - Control frames are text messages carrying a small JSON object that
//     announces a dictionary version: {"op":"dict_update","ver":2}.
//   - Data frames are binary messages carrying a compressed batch.
//
// Any other text message is application text and is passed through untouched.
//
// # Data Framing
//
// With FramingTagged (the default) each data frame is self-describing:
//
//	┌───────────────────────────────┬───────────────────────────────┐
//	│ Dictionary Version            │ Compressed Payload            │
//	│ (4 bytes, big-endian)         │ (variable)                    │
//	└───────────────────────────────┴───────────────────────────────┘
//
// Version 0 marks a batch sent uncompressed after an encode failure.
//
// With FramingOutOfBand the frame carries only compressed bytes and the
// receiver decodes with the most recently announced version. Batches that
// could not be compressed are sent as text frames instead.
//
// # Ordering
//
// A sender must write the control frame for version n before the first data
// frame compressed with version n. Receivers treat repeated or older control
// frames as no-ops.
package protocol
