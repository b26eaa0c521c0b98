// Package server is the GhostWatch HTTP and WebSocket server.
//
// Routes:
//
//	GET  /dictionary            current dictionary bytes
//	GET  /dictionary/{version}  a current, staged or retained version
//	PUT  /admin/dictionary      hot-swap to the request body (bearer token)
//	GET  /healthz               JSON status
//	GET  /metrics               Prometheus exposition
//	GET  /ws?channel=<id>       WebSocket stream, default channel "main_room"
//
// Each channel has one batch queue. Messages published to a channel are
// flushed as one compressed data frame to every member. Every connection
// receives a dict_update control frame for the current version when it
// opens, and for any newer version before the first data frame that needs it.
//
// Application routes mounted with Handle go through compression negotiation:
//
//	srv, err := server.New(server.DefaultConfig(), store)
//	srv.Handle("/api/data", dataHandler)
//	err = srv.Run(ctx)
package server
