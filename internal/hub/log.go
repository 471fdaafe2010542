package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/collab/internal/protocol"
)

// BaseVersion is the version of a document with no changes.
const BaseVersion int64 = 1

var (
	ErrDocumentRequired = errors.New("hub: document id required")
	ErrLogClosed        = errors.New("hub: log closed")
)

// Entry is a change at the version the log assigned it.
type Entry struct {
	Version int64           `json:"version"`
	Change  protocol.Change `json:"change"`
}

// Log stores the ordered change history of every document.
type Log interface {
	// Since returns the head version and every entry newer than version.
	Since(ctx context.Context, doc string, version int64) (int64, []Entry, error)
	// Append adds changes whose ids are not already present and returns the
	// new head plus the entries actually appended.
	Append(ctx context.Context, doc string, changes []protocol.Change) (int64, []Entry, error)
	Close()
}

// MemoryLog is a process-local Log.
type MemoryLog struct {
	mu     sync.Mutex
	docs   map[string]*memoryDoc
	closed bool
}

type memoryDoc struct {
	entries []Entry
	ids     map[string]struct{}
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{docs: make(map[string]*memoryDoc)}
}

func (l *MemoryLog) doc(id string) *memoryDoc {
	d, ok := l.docs[id]
	if !ok {
		d = &memoryDoc{ids: make(map[string]struct{})}
		l.docs[id] = d
	}
	return d
}

func (d *memoryDoc) head() int64 {
	return BaseVersion + int64(len(d.entries))
}

func (l *MemoryLog) Since(_ context.Context, doc string, version int64) (int64, []Entry, error) {
	if doc == "" {
		return 0, nil, ErrDocumentRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, nil, ErrLogClosed
	}
	d := l.doc(doc)
	head := d.head()
	if version >= head {
		return head, nil, nil
	}
	from := version - BaseVersion
	if from < 0 {
		from = 0
	}
	return head, append([]Entry(nil), d.entries[from:]...), nil
}

func (l *MemoryLog) Append(_ context.Context, doc string, changes []protocol.Change) (int64, []Entry, error) {
	if doc == "" {
		return 0, nil, ErrDocumentRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, nil, ErrLogClosed
	}
	d := l.doc(doc)
	var appended []Entry
	for _, c := range changes {
		if c.ID != "" {
			if _, dup := d.ids[c.ID]; dup {
				continue
			}
			d.ids[c.ID] = struct{}{}
		}
		e := Entry{Version: d.head() + 1, Change: c}
		d.entries = append(d.entries, e)
		appended = append(appended, e)
	}
	return d.head(), appended, nil
}

func (l *MemoryLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}
