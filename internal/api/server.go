// Package api implements the localhost gateway: a gin HTTP server that
// forwards OpenAI- and Anthropic-shaped requests to upstream providers
// according to the configured routing rules.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vibemate/vibemate/internal/config"
	"github.com/vibemate/vibemate/internal/logging"
	"github.com/vibemate/vibemate/internal/util"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running
	// gateway.
	ErrAlreadyRunning = errors.New("gateway is already running")
	// ErrNotRunning is returned when Stop is called on a stopped gateway.
	ErrNotRunning = errors.New("gateway is not running")
)

// Status is a snapshot of the gateway's runtime state.
type Status struct {
	Running      bool  `json:"running"`
	Port         int   `json:"port"`
	RequestCount int64 `json:"request_count"`
}

// Server is the gateway. It binds to 127.0.0.1 only; the gateway fronts
// local coding agents, never remote callers.
type Server struct {
	cfg *config.Store

	mu         sync.Mutex
	httpServer *http.Server

	running      atomic.Bool
	port         atomic.Int64
	requestCount atomic.Int64

	// newClient is overridable in tests.
	newClient func(app config.AppConfig) *http.Client
}

// NewServer builds a gateway over the settings store.
func NewServer(cfg *config.Store) *Server {
	return &Server{cfg: cfg, newClient: util.NewHTTPClient}
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())
	engine.Use(func(c *gin.Context) {
		s.requestCount.Add(1)
		c.Next()
	})

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.CurrentStatus())
	})
	// All three gateway groups dispatch through one catch-all; gin cannot
	// register /api/openai/*path alongside /api/*path.
	engine.Any("/api/*path", s.handleProxy)
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start binds the gateway to the port and begins serving. It returns once
// the listener is bound; serving continues in the background.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if port <= 0 {
		port = config.DefaultPort
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.buildEngine()}
	s.httpServer = srv
	s.running.Store(true)
	s.port.Store(int64(port))

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("gateway server: %v", err)
		}
		s.running.Store(false)
	}()

	log.Infof("gateway listening on %s", addr)
	return nil
}

// Stop shuts the gateway down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return ErrNotRunning
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.running.Store(false)
	s.httpServer = nil
	return err
}

// CurrentStatus reports whether the gateway is running, on which port, and
// how many requests it has handled.
func (s *Server) CurrentStatus() Status {
	return Status{
		Running:      s.running.Load(),
		Port:         int(s.port.Load()),
		RequestCount: s.requestCount.Load(),
	}
}
