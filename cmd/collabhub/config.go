package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/collab/internal/hub"
	"github.com/danmuck/collab/internal/transport"
)

// collabhub config.toml key mapping to hub service settings.
type fileConfig struct {
	ID           string        `toml:"id"`
	HTTPAddr     string        `toml:"http_addr"`
	StreamAddr   string        `toml:"stream_addr"`
	CORSOrigins  []string      `toml:"cors_origins"`
	Token        string        `toml:"token"`
	LogBackend   string        `toml:"log_backend"`
	PostgresDSN  string        `toml:"postgres_dsn"`
	RedisAddr    string        `toml:"redis_addr"`
	RedisChannel string        `toml:"redis_channel"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	SendQueue    int           `toml:"send_queue"`
	OpTimeout    time.Duration `toml:"op_timeout"`
	MaxFrame     uint32        `toml:"max_frame_bytes"`
	SecurityMode string        `toml:"security_mode"`
	TLSEnabled   bool          `toml:"tls_enabled"`
	TLSMutual    bool          `toml:"tls_mutual"`
	TLSCertFile  string        `toml:"tls_cert_file"`
	TLSKeyFile   string        `toml:"tls_key_file"`
	TLSCAFile    string        `toml:"tls_ca_file"`
}

// collabhub loader for TOML config with default overlay.
func loadServiceConfig(path string) (hub.ServiceConfig, error) {
	cfg := hub.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return hub.ServiceConfig{}, fmt.Errorf("load hub config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("stream_addr") {
		cfg.StreamAddr = strings.TrimSpace(raw.StreamAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("log_backend") {
		cfg.LogBackend = strings.ToLower(strings.TrimSpace(raw.LogBackend))
	}
	if meta.IsDefined("postgres_dsn") {
		cfg.PostgresDSN = strings.TrimSpace(raw.PostgresDSN)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_channel") {
		cfg.RedisChannel = strings.TrimSpace(raw.RedisChannel)
	}
	if meta.IsDefined("write_timeout") {
		cfg.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("send_queue") {
		cfg.SendQueue = raw.SendQueue
	}
	if meta.IsDefined("op_timeout") {
		cfg.OpTimeout = raw.OpTimeout
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.MaxFrame = raw.MaxFrame
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
	if meta.IsDefined("tls_cert_file") {
		cfg.Security.TLS.CertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.Security.TLS.KeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.Security.TLS.CAFile = strings.TrimSpace(raw.TLSCAFile)
	}

	if err := cfg.Validate(); err != nil {
		return hub.ServiceConfig{}, fmt.Errorf("load hub config: %w", err)
	}
	return cfg, nil
}
