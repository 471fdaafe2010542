package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/testutil/testlog"
	"github.com/oklog/ulid/v2"
)

// These run against real services when the addresses are exported, e.g.
// COLLAB_TEST_POSTGRES_DSN=postgres://collab@127.0.0.1/collab_test
// COLLAB_TEST_REDIS_ADDR=127.0.0.1:6379

func TestPostgresLogAppendSinceAndDedupe(t *testing.T) {
	dsn := os.Getenv("COLLAB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COLLAB_TEST_POSTGRES_DSN not set")
	}
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l, err := OpenPostgresLog(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	doc := "it-" + ulid.Make().String()

	head, entries, err := l.Since(ctx, doc, BaseVersion)
	if err != nil || head != BaseVersion || len(entries) != 0 {
		t.Fatalf("empty doc head=%d entries=%d err=%v", head, len(entries), err)
	}
	head, appended, err := l.Append(ctx, doc, []protocol.Change{change("a"), change("b")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if head != 3 || len(appended) != 2 || appended[0].Version != 2 || appended[1].Version != 3 {
		t.Fatalf("append head=%d appended=%+v", head, appended)
	}
	head, appended, err = l.Append(ctx, doc, []protocol.Change{change("a"), change("c")})
	if err != nil {
		t.Fatalf("append retry: %v", err)
	}
	if head != 4 || len(appended) != 1 || appended[0].Change.ID != "c" {
		t.Fatalf("dedupe head=%d appended=%+v", head, appended)
	}
	head, entries, err = l.Since(ctx, doc, 2)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if head != 4 || len(entries) != 2 || entries[0].Change.ID != "b" || entries[1].Change.ID != "c" {
		t.Fatalf("since 2 head=%d entries=%+v", head, entries)
	}
	if string(entries[0].Change.Payload) == "" {
		t.Fatalf("payload lost in round trip")
	}
}

func TestRedisFanoutDeliversPublished(t *testing.T) {
	addr := os.Getenv("COLLAB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COLLAB_TEST_REDIS_ADDR not set")
	}
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	channel := "collab:test:" + ulid.Make().String()
	f, err := NewRedisFanout(ctx, addr, channel)
	if err != nil {
		t.Fatalf("new fanout: %v", err)
	}
	defer f.Close()

	got := make(chan Broadcast, 16)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = f.Run(runCtx, func(b Broadcast) {
			select {
			case got <- b:
			default:
			}
		})
	}()

	sent := Broadcast{Origin: "hub-2", Document: "doc-1", Entries: []Entry{{Version: 2, Change: change("r1")}}}
	// The subscription may not be live yet; publish until one arrives.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := f.Publish(ctx, sent); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case b := <-got:
			if b.Origin != "hub-2" || b.Document != "doc-1" || len(b.Entries) != 1 || b.Entries[0].Change.ID != "r1" {
				t.Fatalf("broadcast got=%+v", b)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatalf("no broadcast delivered: %v", ctx.Err())
		}
	}
}
