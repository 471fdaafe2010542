// Package transport owns the client link to a collaboration hub.
//
// Ownership boundary:
// - Dialer/Conn contracts for framed, ordered message delivery
// - the Adapter that turns one connection at a time into Open/Message/Close
//   events tagged with a connection epoch
// - websocket, framed TCP (optional TLS/mTLS) and in-memory pipe dialers
//
// Events from a connection the Adapter has already replaced or torn down are
// never delivered.
package transport
