package document

import (
	"fmt"
	"sync"

	"github.com/danmuck/collab/internal/collab"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/oklog/ulid/v2"
)

// Text is a rune buffer implementing collab.Document, collab.Snapshotter and
// collab.EditGate. Subscribers must not edit the Text they are notified by.
type Text struct {
	// editMu orders a local edit and its notification against HoldEdits.
	editMu sync.Mutex
	mu     sync.RWMutex
	runes  []rune
	subs   map[int]func(collab.ChangeEvent)
	next   int
}

var (
	_ collab.Document    = (*Text)(nil)
	_ collab.Snapshotter = (*Text)(nil)
	_ collab.EditGate    = (*Text)(nil)
)

func NewText(initial string) *Text {
	return &Text{
		runes: []rune(initial),
		subs:  make(map[int]func(collab.ChangeEvent)),
	}
}

func (t *Text) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return string(t.runes)
}

func (t *Text) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runes)
}

// Insert edits locally and notifies subscribers with the produced change.
func (t *Text) Insert(pos int, text string) (protocol.Change, error) {
	return t.edit(Op{Op: OpInsert, Pos: pos, Text: text})
}

// Delete removes n runes at pos and notifies subscribers.
func (t *Text) Delete(pos, n int) (protocol.Change, error) {
	return t.edit(Op{Op: OpDelete, Pos: pos, Len: n})
}

func (t *Text) edit(op Op) (protocol.Change, error) {
	payload, err := EncodeOp(op)
	if err != nil {
		return protocol.Change{}, err
	}
	t.editMu.Lock()
	defer t.editMu.Unlock()
	t.mu.Lock()
	size := len(t.runes)
	end := op.Pos
	if op.Op == OpDelete {
		end = op.Pos + op.Len
	}
	if op.Pos > size || end > size {
		t.mu.Unlock()
		return protocol.Change{}, fmt.Errorf("%w: op=%s pos=%d end=%d size=%d", ErrOutOfRange, op.Op, op.Pos, end, size)
	}
	t.applyLocked(op)
	subs := t.subscribersLocked()
	t.mu.Unlock()

	change := protocol.Change{ID: ulid.Make().String(), Payload: payload}
	ev := collab.ChangeEvent{Change: change, Info: map[string]string{"op": op.Op}}
	for _, fn := range subs {
		fn(ev)
	}
	return change, nil
}

// HoldEdits runs fn with local edits blocked. fn may call ApplyChange,
// Snapshot and Restore.
func (t *Text) HoldEdits(fn func()) {
	t.editMu.Lock()
	defer t.editMu.Unlock()
	fn()
}

// ApplyChange applies a remote change without notifying subscribers.
func (t *Text) ApplyChange(change protocol.Change) error {
	op, err := DecodeOp(change.Payload)
	if err != nil {
		return fmt.Errorf("change %q: %w", change.ID, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyLocked(op)
	return nil
}

// applyLocked clamps positions to the buffer.
func (t *Text) applyLocked(op Op) {
	pos := min(op.Pos, len(t.runes))
	switch op.Op {
	case OpInsert:
		ins := []rune(op.Text)
		out := make([]rune, 0, len(t.runes)+len(ins))
		out = append(out, t.runes[:pos]...)
		out = append(out, ins...)
		out = append(out, t.runes[pos:]...)
		t.runes = out
	case OpDelete:
		end := min(pos+op.Len, len(t.runes))
		t.runes = append(t.runes[:pos:pos], t.runes[end:]...)
	}
}

func (t *Text) subscribersLocked() []func(collab.ChangeEvent) {
	out := make([]func(collab.ChangeEvent), 0, len(t.subs))
	for i := 0; i < t.next; i++ {
		if fn, ok := t.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (t *Text) Subscribe(fn func(collab.ChangeEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
		})
	}
}

func (t *Text) Snapshot() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return string(t.runes)
}

func (t *Text) Restore(snapshot any) {
	s, ok := snapshot.(string)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runes = []rune(s)
}
