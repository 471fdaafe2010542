// Package collab owns the client side of a collaborative document session.
//
// Ownership boundary:
// - VersionState (session id + monotonic local version)
// - PendingBuffer (local changes not yet acknowledged, in production order)
// - Session: connection lifecycle, open/reconcile handshake, commit rounds,
//   remote update application, reconnect with backoff
//
// Lifecycle order:
// - idle -> connecting -> awaiting_open_ack -> synchronized
// - awaiting_open_ack -> reconciling -> synchronized when versions differ
// - synchronized -> reconciling on an update gap (resync via open)
// - any -> disconnected on transport close; pending changes are kept
//
// All state transitions run on the goroutine that called Session.Run. The
// document model and the transport are collaborators reached only through
// Document and transport.Dialer.
package collab
