package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/collab/internal/collab"
	"github.com/danmuck/collab/internal/config"
	"github.com/danmuck/collab/internal/testutil/testlog"
	"github.com/danmuck/collab/internal/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigEmptyPathReturnsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadClientConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Transport != transportWebSocket {
		t.Fatalf("expected websocket transport, got %q", cfg.Transport)
	}
	if cfg.Session.CommitPolicy != collab.CommitImmediate {
		t.Fatalf("expected immediate policy, got %q", cfg.Session.CommitPolicy)
	}
	if cfg.JournalPath == "" {
		t.Fatalf("expected default journal path")
	}
}

func TestLoadClientConfigOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
document_id = " notes "
transport = "TCP"
addr = "127.0.0.1:9401"
token = "secret"
journal_path = ""
commit_policy = "Batched"
batch_interval = "100ms"
send_timeout = "2s"
backoff_initial_delay = "50ms"
backoff_multiplier = 1.5
backoff_max_delay = "1s"
backoff_jitter = false
max_reconnect_attempts = 3
`)
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DocumentID != "notes" || cfg.Transport != transportTCP || cfg.Addr != "127.0.0.1:9401" {
		t.Fatalf("unexpected target: %+v", cfg)
	}
	if cfg.JournalPath != "" {
		t.Fatalf("expected journal disabled, got %q", cfg.JournalPath)
	}
	s := cfg.Session
	if s.CommitPolicy != collab.CommitBatched || s.BatchInterval != 100*time.Millisecond || s.SendTimeout != 2*time.Second {
		t.Fatalf("unexpected commit settings: %+v", s)
	}
	if s.Backoff.InitialDelay != 50*time.Millisecond || s.Backoff.Multiplier != 1.5 ||
		s.Backoff.MaxDelay != time.Second || s.Backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", s.Backoff)
	}
	if s.MaxReconnectAttempts != 3 {
		t.Fatalf("expected 3 reconnect attempts, got %d", s.MaxReconnectAttempts)
	}
	if cfg.ConnectTimeout != defaultClientConfig().ConnectTimeout {
		t.Fatalf("expected default connect timeout, got %s", cfg.ConnectTimeout)
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := loadClientConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestClientConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := defaultClientConfig()
	if err := cfg.validate(); !errors.Is(err, collab.ErrDocumentIDRequired) {
		t.Fatalf("expected document id error, got %v", err)
	}

	cfg.DocumentID = "notes"
	cfg.Transport = "carrier-pigeon"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected unsupported transport error")
	}

	cfg.Transport = transportTCP
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected missing addr error")
	}

	cfg.Addr = "127.0.0.1:9401"
	cfg.Security.Mode = transport.SecurityModeProduction
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected production mode without tls to fail")
	}
}

func TestClientConfigWebSocketDialer(t *testing.T) {
	testlog.Start(t)
	cfg := defaultClientConfig()
	cfg.DocumentID = "notes"
	cfg.URL = "ws://127.0.0.1:9000/ws/"
	cfg.Token = "secret"

	d, err := cfg.dialer()
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	ws, ok := d.(transport.WebSocketDialer)
	if !ok {
		t.Fatalf("expected websocket dialer, got %T", d)
	}
	if ws.URL != "ws://127.0.0.1:9000/ws/notes" {
		t.Fatalf("unexpected url %q", ws.URL)
	}
	if got := ws.Header.Get("Authorization"); got != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if ws.TLS != nil {
		t.Fatalf("expected no tls config")
	}

	cfg.URL = "ws://127.0.0.1:9000/ws/other"
	d, err = cfg.dialer()
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	if got := d.(transport.WebSocketDialer).URL; got != "ws://127.0.0.1:9000/ws/other" {
		t.Fatalf("expected explicit url kept, got %q", got)
	}
}

func TestClientConfigTCPDialer(t *testing.T) {
	testlog.Start(t)
	cfg := defaultClientConfig()
	cfg.DocumentID = "notes"
	cfg.Transport = transportTCP
	cfg.Addr = "127.0.0.1:9401"
	cfg.MaxFrame = 4096

	d, err := cfg.dialer()
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	tcp, ok := d.(transport.TCPDialer)
	if !ok {
		t.Fatalf("expected tcp dialer, got %T", d)
	}
	if tcp.Address != "127.0.0.1:9401" || tcp.Limits.MaxPayloadBytes != 4096 {
		t.Fatalf("unexpected tcp dialer: %+v", tcp)
	}
}

func TestHostOf(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"ws://hub.local:9000/ws/notes": "hub.local:9000",
		"wss://hub.local/ws/notes":     "hub.local:443",
		"ws://hub.local/ws/notes":      "hub.local:80",
	}
	for in, want := range cases {
		if got := hostOf(in); got != want {
			t.Fatalf("hostOf(%q)=%q want %q", in, got, want)
		}
	}
}

func TestLoadClientConfigFromTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteTemplate(path, config.KindClient, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate template: %v", err)
	}
	if cfg.DocumentID != "notes" || cfg.Session.BatchInterval != 250*time.Millisecond {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}
