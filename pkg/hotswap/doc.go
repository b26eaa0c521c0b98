// Package hotswap propagates dictionary versions between server and clients.
//
// On the server, Coordinator swaps the active dictionary without
// interrupting traffic: it stages the new version in the store, announces it
// to every peer with a dict_update control frame, then makes it current.
// Frames compressed before the swap remain decodable because the store
// retains previous versions.
//
// On the client, Tracker is a small state machine:
//
//	Uninitialized → Fetching → Ready → Fetching → Ready …
//
// Announcements for newer versions trigger a fetch; repeated or older
// announcements are ignored. Data frames that need a version still being
// fetched are buffered and replayed in arrival order once it arrives. Fetch
// failures are retried with exponential backoff and never end the session.
//
// Watcher reloads a dictionary source periodically and swaps when its
// content digest changes.
package hotswap
