package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/collab/internal/auth"
	"github.com/danmuck/collab/internal/observability"
	"github.com/danmuck/collab/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type ServerConfig struct {
	Addr         string
	CORSOrigins  []string
	Validator    auth.Validator
	WriteTimeout time.Duration
}

// Server exposes a Hub over HTTP: websocket sessions plus health and metrics.
type Server struct {
	Addr     string
	Appeared time.Time

	hub          *Hub
	router       *gin.Engine
	upgrader     websocket.Upgrader
	validator    auth.Validator
	writeTimeout time.Duration
}

func NewServer(h *Hub, cfg ServerConfig) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(h.ID()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		Addr:         cfg.Addr,
		Appeared:     time.Now(),
		hub:          h,
		router:       r,
		validator:    cfg.Validator,
		writeTimeout: cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"hub":     s.hub.ID(),
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	docs := s.router.Group("/", auth.Middleware(s.validator))
	docs.GET("/documents/:doc", func(c *gin.Context) {
		doc := c.Param("doc")
		head, err := s.hub.Head(c.Request.Context(), doc)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"document": doc,
			"head":     head,
			"clients":  s.hub.Clients(doc),
		})
	})
	docs.GET("/ws/:doc", s.serveWebSocket)
}

func (s *Server) serveWebSocket(c *gin.Context) {
	doc := c.Param("doc")
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msgf("hub.Server upgrade doc=%q", doc)
		return
	}
	conn := transport.NewWebSocketConn(ws, s.writeTimeout)
	if err := s.hub.Serve(c.Request.Context(), conn, doc); err != nil {
		log.Debug().Err(err).Msgf("hub.Server websocket closed doc=%q", doc)
	}
}

// Serve listens on Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("hub.Server listening addr=%s hub=%s", s.Addr, s.hub.ID())
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
