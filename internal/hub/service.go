package hub

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/collab/internal/auth"
	"github.com/danmuck/collab/internal/protocol/frame"
	"github.com/danmuck/collab/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	LogBackendMemory   = "memory"
	LogBackendPostgres = "postgres"
)

// ServiceConfig is the collabhub process configuration.
type ServiceConfig struct {
	ID           string
	HTTPAddr     string
	StreamAddr   string
	CORSOrigins  []string
	Token        string
	LogBackend   string
	PostgresDSN  string
	RedisAddr    string
	RedisChannel string
	WriteTimeout time.Duration
	SendQueue    int
	OpTimeout    time.Duration
	MaxFrame     uint32
	Security     transport.SecurityConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:           "hub.local",
		HTTPAddr:     ":9000",
		LogBackend:   LogBackendMemory,
		RedisChannel: DefaultRedisChannel,
		WriteTimeout: 10 * time.Second,
		SendQueue:    DefaultConfig().SendQueue,
		OpTimeout:    DefaultConfig().OpTimeout,
		MaxFrame:     frame.DefaultLimits().MaxPayloadBytes,
	}
}

func (c ServiceConfig) Validate() error {
	switch c.LogBackend {
	case LogBackendMemory:
	case LogBackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("hub: postgres_dsn required for log backend %q", c.LogBackend)
		}
	default:
		return fmt.Errorf("hub: unsupported log backend %q", c.LogBackend)
	}
	// Fanout only relays; peers need a shared log to read each other's versions.
	if strings.TrimSpace(c.RedisAddr) != "" && c.LogBackend != LogBackendPostgres {
		return fmt.Errorf("hub: redis_addr requires log backend %q, got %q", LogBackendPostgres, c.LogBackend)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" && strings.TrimSpace(c.StreamAddr) == "" {
		return fmt.Errorf("hub: at least one of http_addr or stream_addr is required")
	}
	if strings.TrimSpace(c.StreamAddr) != "" {
		if err := c.Security.ValidateServer(); err != nil {
			return err
		}
	}
	return nil
}

type Service struct {
	cfg ServiceConfig
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	store, err := s.openLog(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var fanout Fanout
	if strings.TrimSpace(s.cfg.RedisAddr) != "" {
		rf, err := NewRedisFanout(ctx, s.cfg.RedisAddr, s.cfg.RedisChannel)
		if err != nil {
			return err
		}
		defer rf.Close()
		fanout = rf
	}

	h, err := New(store, fanout, Config{ID: s.cfg.ID, SendQueue: s.cfg.SendQueue, OpTimeout: s.cfg.OpTimeout})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 3)
	running := 0
	start := func(name string, fn func() error) {
		running++
		go func() {
			err := fn()
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
			errs <- err
		}()
	}

	start("fanout", func() error { return h.Run(ctx) })
	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		var v auth.Validator
		if s.cfg.Token != "" {
			v = auth.StaticToken{Token: s.cfg.Token}
		}
		srv := NewServer(h, ServerConfig{
			Addr:         addr,
			CORSOrigins:  s.cfg.CORSOrigins,
			Validator:    v,
			WriteTimeout: s.cfg.WriteTimeout,
		})
		start("http", func() error { return srv.Serve(ctx) })
	}
	if addr := strings.TrimSpace(s.cfg.StreamAddr); addr != "" {
		ln, err := s.listen(addr)
		if err != nil {
			return err
		}
		log.Info().Msgf("hub.Service stream listening addr=%q tls=%v", ln.Addr().String(), s.cfg.Security.TLS.Enabled)
		limits := frame.Limits{MaxPayloadBytes: s.cfg.MaxFrame}
		start("stream", func() error { return h.ServeListener(ctx, ln, limits, s.cfg.WriteTimeout) })
	}

	// The first component to stop takes the rest down with it.
	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

func (s *Service) openLog(ctx context.Context) (Log, error) {
	if s.cfg.LogBackend == LogBackendPostgres {
		return OpenPostgresLog(ctx, s.cfg.PostgresDSN)
	}
	return NewMemoryLog(), nil
}

func (s *Service) listen(addr string) (net.Listener, error) {
	if !s.cfg.Security.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := s.cfg.Security.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}
