package collab

import (
	"testing"

	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/testutil/testlog"
)

func ids(changes []protocol.Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.ID)
	}
	return out
}

func sameIDs(t *testing.T, got []protocol.Change, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("ids got=%v want=%v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("ids got=%v want=%v", g, want)
		}
	}
}

func TestPendingBufferDrainKeepsOrder(t *testing.T) {
	testlog.Start(t)
	b := NewPendingBuffer(protocol.Change{ID: "a"})
	b.Enqueue(protocol.Change{ID: "b"})
	b.Enqueue(protocol.Change{ID: "c"})
	sameIDs(t, b.PeekAll(), "a", "b", "c")
	sameIDs(t, b.DrainAll(), "a", "b", "c")
	if b.Len() != 0 {
		t.Fatalf("drain left %d items", b.Len())
	}
	if got := b.DrainAll(); len(got) != 0 {
		t.Fatalf("drain of empty buffer got=%v", ids(got))
	}
}

func TestPendingBufferRequeueGoesFirst(t *testing.T) {
	testlog.Start(t)
	b := NewPendingBuffer()
	b.Enqueue(protocol.Change{ID: "a"})
	b.Enqueue(protocol.Change{ID: "b"})
	batch := b.DrainAll()
	b.Enqueue(protocol.Change{ID: "c"})
	b.Requeue(batch)
	sameIDs(t, b.PeekAll(), "a", "b", "c")
	b.Requeue(nil)
	if b.Len() != 3 {
		t.Fatalf("requeue of nothing changed length to %d", b.Len())
	}
}

func TestPendingBufferPeekIsCopy(t *testing.T) {
	testlog.Start(t)
	b := NewPendingBuffer(protocol.Change{ID: "a"})
	peek := b.PeekAll()
	peek[0].ID = "mutated"
	sameIDs(t, b.PeekAll(), "a")
}

func TestPendingBufferSettleRemovesKnownIDs(t *testing.T) {
	testlog.Start(t)
	b := NewPendingBuffer(
		protocol.Change{ID: "a"},
		protocol.Change{},
		protocol.Change{ID: "b"},
		protocol.Change{ID: "c"},
	)
	n := b.Settle(map[string]struct{}{"a": {}, "c": {}, "": {}})
	if n != 2 {
		t.Fatalf("settle removed %d want 2", n)
	}
	sameIDs(t, b.PeekAll(), "", "b")
}
