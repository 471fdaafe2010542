package main

import (
	"testing"
	"time"

	"github.com/danmuck/collab/internal/testutil/testlog"
)

func TestParseCommand(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		line string
		want command
	}{
		{"insert 3 hello world", command{Kind: cmdInsert, Pos: 3, Text: "hello world"}},
		{"i 0 x", command{Kind: cmdInsert, Pos: 0, Text: "x"}},
		{"append  two words", command{Kind: cmdAppend, Text: "two words"}},
		{"delete 2 5", command{Kind: cmdDelete, Pos: 2, N: 5}},
		{"SHOW", command{Kind: cmdShow}},
		{"status", command{Kind: cmdStatus}},
		{"flush", command{Kind: cmdFlush}},
		{"reconnect", command{Kind: cmdReconnect}},
		{"sync", command{Kind: cmdSync, Timeout: defaultSyncTimeout}},
		{"sync 250ms", command{Kind: cmdSync, Timeout: 250 * time.Millisecond}},
		{"help", command{Kind: cmdHelp}},
		{"  exit  ", command{Kind: cmdQuit}},
	}
	for _, tc := range cases {
		got, err := parseCommand(tc.line)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %+v want %+v", tc.line, got, tc.want)
		}
	}
}

func TestParseCommandRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	for _, line := range []string{
		"",
		"insert",
		"insert 3",
		"insert -1 x",
		"insert abc x",
		"append",
		"delete 1",
		"delete 1 0",
		"delete x 2",
		"sync soon",
		"frobnicate",
	} {
		if _, err := parseCommand(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}
