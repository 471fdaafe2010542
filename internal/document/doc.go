// Package document provides a plain-text document model for collab sessions.
//
// Ownership boundary:
// - rune buffer and the insert/delete operation payload
// - local edit notification to subscribers
// - snapshot/restore for rolled-back reconciliation
//
// Remote changes are applied with positions clamped to the current text;
// merge strategy beyond that is out of scope.
package document
