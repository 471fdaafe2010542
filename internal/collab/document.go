package collab

import "github.com/danmuck/collab/internal/protocol"

// ChangeEvent is a local edit reported by the document model.
type ChangeEvent struct {
	Change protocol.Change
	Info   map[string]string
}

// Document is the document model a session keeps in sync. ApplyChange is
// called only for remote changes and must not notify subscribers.
type Document interface {
	ApplyChange(change protocol.Change) error
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())
}

// Snapshotter is implemented by documents that can roll back a failed
// reconciliation. Restore replaces the whole document, so a local edit made
// between Snapshot and Restore is lost unless the document also implements
// EditGate.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

// EditGate is implemented by documents that can hold local edits. While fn
// runs no local edit may start, and none may be half done: a local edit and
// its ChangeEvent notification happen entirely before or after fn. The
// session calls HoldEdits from its own goroutine around reconciliation and
// checkpoints; fn never waits on the editor.
type EditGate interface {
	HoldEdits(fn func())
}
