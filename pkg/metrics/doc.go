// Package metrics records compression-layer events.
//
// Components report through the Sink interface. Prometheus exports the events
// with client_golang; Nop discards them.
//
// Metrics collected by Prometheus (default namespace "ghostwatch"):
//   - ghostwatch_bytes_saved_total: bytes saved by compression, by protocol
//   - ghostwatch_bytes_original_total / ghostwatch_bytes_compressed_total
//   - ghostwatch_compression_ratio: last compressed/original ratio, by protocol
//   - ghostwatch_frame_size_bytes: histogram of compressed sizes, by protocol
//   - ghostwatch_poison_frames_total: frames dropped after a decode failure
//   - ghostwatch_messages_dropped_total: discarded messages, by protocol and reason
//   - ghostwatch_encode_fallbacks_total: payloads sent uncompressed
//   - ghostwatch_dictionary_version: current dictionary version
//   - ghostwatch_dictionary_swaps_total: completed hot-swaps
//   - ghostwatch_broadcast_failures_total: control frames not delivered
//   - ghostwatch_connections / ghostwatch_channels: live gauges
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	sink := metrics.NewPrometheus(metrics.WithRegistry(reg))
//	mux.Handle("/metrics", metrics.Handler(reg))
package metrics
