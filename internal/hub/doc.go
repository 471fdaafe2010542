// Package hub is the authoritative server side of the collab protocol.
//
// Ownership boundary:
// - per-document change log (memory or PostgreSQL) and version assignment
// - per-connection protocol handling: open, commit, update broadcast
// - optional cross-process fan-out over Redis pub/sub
// - gin HTTP surface (websocket upgrade, health, metrics) and raw TCP listener
//
// Merge policy is trivial: commits are appended in arrival order and a
// change id already in the log is never appended twice.
package hub
