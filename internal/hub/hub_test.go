package hub

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/testutil/testlog"
	"github.com/danmuck/collab/internal/transport"
)

const waitTimeout = 2 * time.Second

// chanConn is a transport.Conn driven directly by a test.
type chanConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newChanConn() *chanConn {
	return &chanConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *chanConn) Send(ctx context.Context, frame []byte) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanConn) Receive() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type peer struct {
	t    *testing.T
	conn *chanConn
	done chan error
}

func connect(t *testing.T, h *Hub, hint string) *peer {
	t.Helper()
	p := &peer{t: t, conn: newChanConn(), done: make(chan error, 1)}
	go func() { p.done <- h.Serve(context.Background(), p.conn, hint) }()
	t.Cleanup(func() { _ = p.conn.Close() })
	return p
}

func (p *peer) send(msg protocol.Message) {
	p.t.Helper()
	frame, err := protocol.Encode(msg)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	p.conn.in <- frame
}

func (p *peer) recv() protocol.Message {
	p.t.Helper()
	select {
	case frame := <-p.conn.out:
		msg, err := protocol.Decode(frame)
		if err != nil {
			p.t.Fatalf("decode hub frame %s: %v", frame, err)
		}
		return msg
	case <-time.After(waitTimeout):
		p.t.Fatalf("timed out waiting for hub message")
		return nil
	}
}

func (p *peer) quiet() {
	p.t.Helper()
	select {
	case frame := <-p.conn.out:
		p.t.Fatalf("unexpected hub message %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func (p *peer) open(doc string, version int64) protocol.OpenCompleted {
	p.t.Helper()
	p.send(protocol.Open{DocumentID: doc, Version: version})
	msg, ok := p.recv().(protocol.OpenCompleted)
	if !ok {
		p.t.Fatalf("expected openCompleted")
	}
	return msg
}

func (p *peer) expectError(code string) {
	p.t.Helper()
	msg, ok := p.recv().(protocol.Error)
	if !ok || msg.Code != code {
		p.t.Fatalf("expected error %q, got %#v", code, msg)
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := New(NewMemoryLog(), nil, Config{ID: "hub-test"})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return h
}

func TestHubOpenEmptyDocument(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	p := connect(t, h, "")
	got := p.open("doc-1", 1)
	if got.ServerVersion != BaseVersion || len(got.Missed) != 0 {
		t.Fatalf("openCompleted got=%+v", got)
	}
	if h.Clients("doc-1") != 1 {
		t.Fatalf("clients got=%d", h.Clients("doc-1"))
	}
}

func TestHubCommitBroadcastsToOthers(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	a := connect(t, h, "")
	b := connect(t, h, "")
	a.open("doc-1", 1)
	b.open("doc-1", 1)

	a.send(protocol.Commit{Changes: []protocol.Change{change("c1"), change("c2")}, BaseVersion: 1})
	ack, ok := a.recv().(protocol.CommitCompleted)
	if !ok || ack.NewVersion != 3 {
		t.Fatalf("commitCompleted got=%#v", ack)
	}
	for i, want := range []struct {
		id      string
		version int64
	}{{"c1", 2}, {"c2", 3}} {
		up, ok := b.recv().(protocol.Update)
		if !ok || up.Change.ID != want.id || up.NewVersion != want.version {
			t.Fatalf("update %d got=%#v", i, up)
		}
	}
	a.quiet()

	late := connect(t, h, "")
	got := late.open("doc-1", 1)
	if got.ServerVersion != 3 || len(got.Missed) != 2 || got.Missed[0].ID != "c1" {
		t.Fatalf("late open got=%+v", got)
	}
}

func TestHubDedupesRetriedCommit(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	a := connect(t, h, "")
	b := connect(t, h, "")
	a.open("doc-1", 1)
	b.open("doc-1", 1)

	a.send(protocol.Commit{Changes: []protocol.Change{change("c1")}, BaseVersion: 1})
	a.recv()
	b.recv()

	a.send(protocol.Commit{Changes: []protocol.Change{change("c1")}, BaseVersion: 1})
	ack, ok := a.recv().(protocol.CommitCompleted)
	if !ok || ack.NewVersion != 2 {
		t.Fatalf("retried commit ack got=%#v", ack)
	}
	b.quiet()
}

func TestHubRejectsOutOfOrderAndUnknown(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	p := connect(t, h, "doc-1")

	p.send(protocol.Commit{Changes: []protocol.Change{change("c1")}, BaseVersion: 1})
	p.expectError(CodeNotOpen)

	p.send(protocol.Open{DocumentID: "doc-2", Version: 1})
	p.expectError(CodeDocumentMismatch)

	p.conn.in <- []byte(`["subscribe","doc-1"]`)
	p.expectError(CodeUnknownMethod)

	p.conn.in <- []byte(`{"open":1}`)
	p.expectError(CodeMalformed)

	p.send(protocol.CommitCompleted{NewVersion: 3})
	p.expectError(CodeUnexpected)
}

func TestHubLeaveOnDisconnect(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	p := connect(t, h, "")
	p.open("doc-1", 1)
	_ = p.conn.Close()
	select {
	case err := <-p.done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("serve did not return")
	}
	if h.Clients("doc-1") != 0 {
		t.Fatalf("client not removed from room")
	}
}

// loopFanout delivers every publish to all hubs attached to it.
type loopFanout struct {
	mu      sync.Mutex
	deliver []func(Broadcast)
	ready   sync.WaitGroup
}

func (f *loopFanout) Publish(_ context.Context, b Broadcast) error {
	f.mu.Lock()
	targets := append(([]func(Broadcast))(nil), f.deliver...)
	f.mu.Unlock()
	for _, fn := range targets {
		fn(b)
	}
	return nil
}

func (f *loopFanout) Run(ctx context.Context, deliver func(Broadcast)) error {
	f.mu.Lock()
	f.deliver = append(f.deliver, deliver)
	f.mu.Unlock()
	f.ready.Done()
	<-ctx.Done()
	return nil
}

func (f *loopFanout) Close() error { return nil }

func TestHubFanoutReachesOtherProcess(t *testing.T) {
	testlog.Start(t)
	shared := NewMemoryLog()
	fan := &loopFanout{}
	fan.ready.Add(2)
	h1, _ := New(shared, fan, Config{ID: "hub-1"})
	h2, _ := New(shared, fan, Config{ID: "hub-2"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h1.Run(ctx) }()
	go func() { _ = h2.Run(ctx) }()
	fan.ready.Wait()

	a := connect(t, h1, "")
	b := connect(t, h2, "")
	a.open("doc-1", 1)
	b.open("doc-1", 1)

	a.send(protocol.Commit{Changes: []protocol.Change{change("c1")}, BaseVersion: 1})
	a.recv()
	up, ok := b.recv().(protocol.Update)
	if !ok || up.Change.ID != "c1" || up.NewVersion != 2 {
		t.Fatalf("cross-hub update got=%#v", up)
	}
	a.quiet()
}

func TestHubDeliverRelaysOtherOriginsInOrder(t *testing.T) {
	testlog.Start(t)
	h := newTestHub(t)
	p := connect(t, h, "")
	p.open("doc-1", 1)

	h.deliver(Broadcast{Origin: "hub-test", Document: "doc-1", Entries: []Entry{{Version: 2, Change: change("own")}}})
	h.deliver(Broadcast{Origin: "hub-2", Document: "doc-1"})
	h.deliver(Broadcast{Origin: "hub-2", Document: "doc-9", Entries: []Entry{{Version: 2, Change: change("elsewhere")}}})
	p.quiet()

	h.deliver(Broadcast{Origin: "hub-2", Document: "doc-1", Entries: []Entry{
		{Version: 2, Change: change("r1")},
		{Version: 3, Change: change("r2")},
	}})
	for i, want := range []string{"r1", "r2"} {
		up, ok := p.recv().(protocol.Update)
		if !ok || up.Change.ID != want || up.NewVersion != int64(i+2) {
			t.Fatalf("update %d got=%#v want id=%s version=%d", i, up, want, i+2)
		}
	}
	p.quiet()
}
