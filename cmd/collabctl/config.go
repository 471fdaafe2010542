package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/collab/internal/collab"
	"github.com/danmuck/collab/internal/protocol/frame"
	"github.com/danmuck/collab/internal/transport"
)

const (
	transportWebSocket = "websocket"
	transportTCP       = "tcp"
)

// clientConfig is the resolved collabctl configuration.
type clientConfig struct {
	DocumentID       string
	Transport        string
	URL              string
	Addr             string
	Token            string
	JournalPath      string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrame         uint32
	Session          collab.Config
	Security         transport.SecurityConfig
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Transport:        transportWebSocket,
		URL:              "ws://127.0.0.1:9000/ws/",
		JournalPath:      "collabctl.db",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxFrame:         frame.DefaultLimits().MaxPayloadBytes,
		Session:          collab.DefaultConfig(),
	}
}

// collabctl config.toml key mapping to client settings.
type fileConfig struct {
	DocumentID           string        `toml:"document_id"`
	Transport            string        `toml:"transport"`
	URL                  string        `toml:"url"`
	Addr                 string        `toml:"addr"`
	Token                string        `toml:"token"`
	JournalPath          string        `toml:"journal_path"`
	ConnectTimeout       time.Duration `toml:"connect_timeout"`
	HandshakeTimeout     time.Duration `toml:"handshake_timeout"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	MaxFrame             uint32        `toml:"max_frame_bytes"`
	CommitPolicy         string        `toml:"commit_policy"`
	BatchInterval        time.Duration `toml:"batch_interval"`
	SendTimeout          time.Duration `toml:"send_timeout"`
	BackoffInitialDelay  time.Duration `toml:"backoff_initial_delay"`
	BackoffMultiplier    float64       `toml:"backoff_multiplier"`
	BackoffMaxDelay      time.Duration `toml:"backoff_max_delay"`
	BackoffJitter        bool          `toml:"backoff_jitter"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	SecurityMode         string        `toml:"security_mode"`
	TLSEnabled           bool          `toml:"tls_enabled"`
	TLSMutual            bool          `toml:"tls_mutual"`
	TLSServerName        string        `toml:"tls_server_name"`
	TLSCertFile          string        `toml:"tls_cert_file"`
	TLSKeyFile           string        `toml:"tls_key_file"`
	TLSCAFile            string        `toml:"tls_ca_file"`
}

// collabctl loader for TOML config with default overlay.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("document_id") {
		cfg.DocumentID = strings.TrimSpace(raw.DocumentID)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("journal_path") {
		cfg.JournalPath = strings.TrimSpace(raw.JournalPath)
	}
	if meta.IsDefined("connect_timeout") {
		cfg.ConnectTimeout = raw.ConnectTimeout
	}
	if meta.IsDefined("handshake_timeout") {
		cfg.HandshakeTimeout = raw.HandshakeTimeout
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrame = raw.MaxFrame
	}
	if meta.IsDefined("commit_policy") {
		cfg.Session.CommitPolicy = collab.CommitPolicy(strings.ToLower(strings.TrimSpace(raw.CommitPolicy)))
	}
	if meta.IsDefined("batch_interval") {
		cfg.Session.BatchInterval = raw.BatchInterval
	}
	if meta.IsDefined("send_timeout") {
		cfg.Session.SendTimeout = raw.SendTimeout
	}
	if meta.IsDefined("backoff_initial_delay") {
		cfg.Session.Backoff.InitialDelay = raw.BackoffInitialDelay
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_max_delay") {
		cfg.Session.Backoff.MaxDelay = raw.BackoffMaxDelay
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Session.Backoff.Jitter = raw.BackoffJitter
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.Session.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("security_mode") {
		cfg.Security.Mode = transport.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("tls_enabled") {
		cfg.Security.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.Security.TLS.Mutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_server_name") {
		cfg.Security.TLS.ServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.Security.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Security.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Security.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	return cfg, nil
}

func (c clientConfig) validate() error {
	if c.DocumentID == "" {
		return collab.ErrDocumentIDRequired
	}
	switch c.Transport {
	case transportWebSocket:
		if c.URL == "" {
			return fmt.Errorf("collabctl: url required for websocket transport")
		}
	case transportTCP:
		if c.Addr == "" {
			return fmt.Errorf("collabctl: addr required for tcp transport")
		}
	default:
		return fmt.Errorf("collabctl: unsupported transport %q", c.Transport)
	}
	return c.Security.ValidateClient()
}

// websocketURL appends the document id when url ends at the /ws/ prefix.
func (c clientConfig) websocketURL() string {
	if strings.HasSuffix(c.URL, "/") {
		return c.URL + c.DocumentID
	}
	return c.URL
}

func (c clientConfig) dialer() (transport.Dialer, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Transport == transportTCP {
		return transport.TCPDialer{
			Address:          c.Addr,
			ConnectTimeout:   c.ConnectTimeout,
			HandshakeTimeout: c.HandshakeTimeout,
			WriteTimeout:     c.WriteTimeout,
			Security:         c.Security,
			Limits:           frame.Limits{MaxPayloadBytes: c.MaxFrame},
		}, nil
	}
	var header http.Header
	if c.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.Token}}
	}
	target := c.websocketURL()
	tlsCfg, err := c.Security.ClientTLSConfig(hostOf(target))
	if err != nil {
		return nil, err
	}
	return transport.WebSocketDialer{
		URL:              target,
		Header:           header,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		TLS:              tlsCfg,
	}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "wss" || u.Scheme == "https" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
