package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/collab/internal/auth"
	"github.com/danmuck/collab/internal/collab"
	"github.com/danmuck/collab/internal/hub"
	"github.com/danmuck/collab/internal/journal"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/testutil/testlog"
	"github.com/danmuck/collab/internal/transport"
	"github.com/gin-gonic/gin"
)

func startHub(t *testing.T, token string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h, err := hub.New(hub.NewMemoryLog(), nil, hub.Config{ID: "hub-collabctl"})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	srv := hub.NewServer(h, hub.ServerConfig{
		Validator:    auth.StaticToken{Token: token},
		WriteTimeout: time.Second,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func testClientConfig(ts *httptest.Server, journalPath string) clientConfig {
	cfg := defaultClientConfig()
	cfg.DocumentID = "notes"
	cfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/"
	cfg.Token = "secret"
	cfg.JournalPath = journalPath
	cfg.Session.Backoff = collab.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1.0}
	return cfg
}

func runClient(t *testing.T, c *client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return cancel, done
}

func TestClientReplCommitsAndJournals(t *testing.T) {
	testlog.Start(t)
	ts := startHub(t, "secret")
	journalPath := filepath.Join(t.TempDir(), "collabctl.db")

	c, err := newClient(testClientConfig(ts, journalPath))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cancel, done := runClient(t, c)
	defer cancel()

	var out bytes.Buffer
	in := strings.NewReader("append hello\ninsert 5 , world\nsync 3s\nshow\nstatus\nquit\n")
	if err := c.repl(context.Background(), in, &out); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if !strings.Contains(out.String(), "hello, world") {
		t.Fatalf("expected document in output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "synced version=3") {
		t.Fatalf("expected sync at version 3, got %q", out.String())
	}

	_ = c.session.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	j, err := journal.Open(journalPath, journal.DefaultOptions())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	snap, err := j.Load("notes")
	_ = j.Close()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Version != 3 || snap.Text != "hello, world" || len(snap.Pending) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.SessionID == "" {
		t.Fatalf("expected session id in snapshot")
	}
}

func TestClientResumesFromJournal(t *testing.T) {
	testlog.Start(t)
	ts := startHub(t, "secret")
	journalPath := filepath.Join(t.TempDir(), "collabctl.db")

	first, err := newClient(testClientConfig(ts, journalPath))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cancel, done := runClient(t, first)
	startCtx, startCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer startCancel()
	if err := first.waitStarted(startCtx); err != nil {
		t.Fatalf("wait started: %v", err)
	}
	if _, err := first.text.Insert(0, "draft"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	syncCtx, syncCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := first.waitSynced(syncCtx); err != nil {
		t.Fatalf("wait synced: %v", err)
	}
	syncCancel()
	sessionID := first.session.SessionID()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	second, err := newClient(testClientConfig(ts, journalPath))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := second.text.String(); got != "draft" {
		t.Fatalf("expected restored text, got %q", got)
	}
	if second.session.SessionID() != sessionID {
		t.Fatalf("expected session id %q, got %q", sessionID, second.session.SessionID())
	}
	if second.session.Version() != 2 {
		t.Fatalf("expected restored version 2, got %d", second.session.Version())
	}
	cancel, done = runClient(t, second)
	defer cancel()
	syncCtx, syncCancel = context.WithTimeout(context.Background(), 3*time.Second)
	defer syncCancel()
	if err := second.waitSynced(syncCtx); err != nil {
		t.Fatalf("wait synced after resume: %v", err)
	}
	if second.session.Version() != 2 {
		t.Fatalf("expected version 2 after resume, got %d", second.session.Version())
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestClientRejectedWithoutToken(t *testing.T) {
	testlog.Start(t)
	ts := startHub(t, "secret")
	cfg := testClientConfig(ts, "")
	cfg.Token = ""
	cfg.Session.MaxReconnectAttempts = 1

	c, err := newClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, done := runClient(t, c)
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected connection error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for run to give up")
	}
}

func pipeClientConfig(journalPath string) clientConfig {
	cfg := defaultClientConfig()
	cfg.DocumentID = "notes"
	cfg.JournalPath = journalPath
	cfg.Session.Backoff = collab.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1.0}
	return cfg
}

func acceptPipe(t *testing.T, pipe *transport.Pipe) *transport.PipeServer {
	t.Helper()
	select {
	case srv := <-pipe.Accepted():
		return srv
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func readMessage(t *testing.T, srv *transport.PipeServer) protocol.Message {
	t.Helper()
	select {
	case raw := <-srv.Inbound():
		msg, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for client message")
		return nil
	}
}

func pushMessage(t *testing.T, srv *transport.PipeServer, msg protocol.Message) {
	t.Helper()
	raw, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode %s: %v", msg.Method(), err)
	}
	if err := srv.Push(raw); err != nil {
		t.Fatalf("push %s: %v", msg.Method(), err)
	}
}

func openAt(t *testing.T, srv *transport.PipeServer, version int64) {
	t.Helper()
	msg := readMessage(t, srv)
	open, ok := msg.(protocol.Open)
	if !ok {
		t.Fatalf("expected open, got %s", msg.Method())
	}
	if open.Version != version {
		t.Fatalf("open version got=%d want=%d", open.Version, version)
	}
	pushMessage(t, srv, protocol.OpenCompleted{ServerVersion: version})
}

func commitOf(t *testing.T, srv *transport.PipeServer) protocol.Commit {
	t.Helper()
	msg := readMessage(t, srv)
	commit, ok := msg.(protocol.Commit)
	if !ok {
		t.Fatalf("expected commit, got %s", msg.Method())
	}
	return commit
}

func TestClientSaveKeepsUnacknowledgedCommit(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	pipe := transport.NewPipe()
	first, err := newClientWithDialer(pipeClientConfig(filepath.Join(dir, "first.db")), pipe)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cancel, done := runClient(t, first)
	defer func() {
		cancel()
		<-done
	}()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ctxCancel()
	srv := acceptPipe(t, pipe)
	openAt(t, srv, 1)
	if err := first.waitUntil(ctx, "sync", func() bool {
		return first.session.State() == collab.StateSynchronized
	}); err != nil {
		t.Fatalf("wait synced: %v", err)
	}
	if _, err := first.text.Insert(0, "hello"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sent := commitOf(t, srv)
	if len(sent.Changes) != 1 {
		t.Fatalf("commit changes got=%d want=1", len(sent.Changes))
	}

	// The server never answers; the process dies after this save.
	if err := first.save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, err := first.journal.Load("notes")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Text != "hello" || snap.Version != 1 || len(snap.Pending) != 1 {
		t.Fatalf("unexpected snapshot: text=%q version=%d pending=%d", snap.Text, snap.Version, len(snap.Pending))
	}
	if snap.Pending[0].ID != sent.Changes[0].ID {
		t.Fatalf("journaled change %q, committed %q", snap.Pending[0].ID, sent.Changes[0].ID)
	}

	recovered := filepath.Join(dir, "recovered.db")
	j, err := journal.Open(recovered, journal.DefaultOptions())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Save("notes", snap); err != nil {
		t.Fatalf("copy snapshot: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	nextPipe := transport.NewPipe()
	second, err := newClientWithDialer(pipeClientConfig(recovered), nextPipe)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := second.text.String(); got != "hello" {
		t.Fatalf("restored text got=%q", got)
	}
	cancel2, done2 := runClient(t, second)
	defer func() {
		cancel2()
		<-done2
	}()
	next := acceptPipe(t, nextPipe)
	openAt(t, next, 1)
	resent := commitOf(t, next)
	if len(resent.Changes) != 1 || resent.Changes[0].ID != sent.Changes[0].ID {
		t.Fatalf("recommitted %v, want change %q", resent.Changes, sent.Changes[0].ID)
	}
	if resent.BaseVersion != 1 {
		t.Fatalf("recommit base got=%d want=1", resent.BaseVersion)
	}
}
