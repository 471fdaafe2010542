package collab

import (
	"sync"

	"github.com/danmuck/collab/internal/protocol"
)

// PendingBuffer holds local changes in the order they were produced.
type PendingBuffer struct {
	mu    sync.Mutex
	items []protocol.Change
}

func NewPendingBuffer(initial ...protocol.Change) *PendingBuffer {
	b := &PendingBuffer{}
	if len(initial) > 0 {
		b.items = append([]protocol.Change(nil), initial...)
	}
	return b
}

func (b *PendingBuffer) Enqueue(c protocol.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, c)
}

// DrainAll empties the buffer and returns its prior contents in order.
func (b *PendingBuffer) DrainAll() []protocol.Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

func (b *PendingBuffer) PeekAll() []protocol.Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Change(nil), b.items...)
}

// Requeue puts a previously drained batch back in front of anything enqueued
// since.
func (b *PendingBuffer) Requeue(changes []protocol.Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.Change, 0, len(changes)+len(b.items))
	out = append(out, changes...)
	out = append(out, b.items...)
	b.items = out
}

// Settle removes changes the server already holds, keyed by change id, and
// returns how many were removed.
func (b *PendingBuffer) Settle(ids map[string]struct{}) int {
	if len(ids) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.items[:0]
	removed := 0
	for _, c := range b.items {
		if _, ok := ids[c.ID]; ok && c.ID != "" {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	b.items = kept
	return removed
}

func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
