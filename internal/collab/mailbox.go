package collab

import "sync"

// mailbox is an unbounded queue drained by the session loop. post never blocks.
type mailbox struct {
	mu     sync.Mutex
	items  []any
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev any) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	return out
}

type (
	editSignal   struct{}
	flushCmd     struct{}
	reconnectCmd struct{}
	closeCmd     struct{}
)

// checkpointCmd asks the loop for a Checkpoint taken between two events.
type checkpointCmd struct {
	capture func()
	reply   chan Checkpoint
}
