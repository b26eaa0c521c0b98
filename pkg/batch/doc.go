// Package batch coalesces outbound channel messages into compressed frames.
//
// A Queue collects JSON messages for one channel and flushes them as a single
// JSON array, compressed with the dictionary that is current at flush time,
// either every FlushInterval or as soon as SizeThreshold messages are pending.
//
//	q := batch.New("main_room", store, codec.New(), ch, batch.Options{})
//	defer q.Close()
//	q.Enqueue(map[string]any{"metric": "cpu_usage", "value": 42})
package batch
