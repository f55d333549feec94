// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/usertasks/internal/access"
	"github.com/jeranaias/usertasks/internal/config"
	"github.com/jeranaias/usertasks/internal/logger"
	"github.com/jeranaias/usertasks/internal/service"
	"github.com/jeranaias/usertasks/internal/tasks"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// APIPrefix is the base path of every API route.
	APIPrefix = "/api/v1"

	// MaxPageSize caps the limit query parameter.
	MaxPageSize = 500

	// limiterIdle is how long an idle rate-limit bucket is kept.
	limiterIdle = 10 * time.Minute
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// StatusAPI is the status service as seen by the handlers.
type StatusAPI interface {
	List(ctx context.Context, caller string, f service.StatusFilter) ([]*tasks.Status, error)
	Retrieve(ctx context.Context, caller, id string) (*tasks.Status, error)
	Cancel(ctx context.Context, caller, id string) (*tasks.Status, error)
	Destroy(ctx context.Context, caller, id string) error
}

// ArtifactAPI is the artifact service as seen by the handlers.
type ArtifactAPI interface {
	List(ctx context.Context, caller string, f service.ArtifactFilter) ([]tasks.Artifact, error)
	Retrieve(ctx context.Context, caller, id string) (*tasks.Artifact, error)
	OpenFile(ctx context.Context, caller, id string) (*tasks.Artifact, io.ReadCloser, error)
}

// SignalAPI streams cancellation signals to engines.
type SignalAPI interface {
	Subscribe(ctx context.Context, caller string) (<-chan tasks.Signal, error)
}

// URLResolver maps a blob key to a public URL.
type URLResolver interface {
	URL(key string) (string, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LimiterCleaner drops idle per-user limiter state.
type LimiterCleaner interface {
	CleanupLimiters(maxIdle time.Duration) int
}

// Deps are the collaborators a Server needs. Signals, Blobs, Health and
// Limiters are optional.
type Deps struct {
	Statuses  StatusAPI
	Artifacts ArtifactAPI
	Signals   SignalAPI
	Tokens    TokenAuthenticator
	Blobs     URLResolver
	Health    Pinger
	Limiters  LimiterCleaner
	Version   string
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the task status HTTP API.
type Server struct {
	cfg     config.ServerConfig
	auth    AuthConfig
	deps    Deps
	engine  *gin.Engine
	limiter *RateLimiter
	started time.Time

	mu     sync.Mutex
	server *http.Server
	stop   context.CancelFunc
	closed bool

	// closing is closed when shutdown starts, ending open signal streams
	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the router. cfg.PublicURL is used for absolute artifact links.
func New(cfg config.ServerConfig, auth AuthConfig, deps Deps) (*Server, error) {
	if deps.Statuses == nil || deps.Artifacts == nil {
		return nil, errors.New("status and artifact services are required")
	}
	if auth.Enabled && deps.Tokens == nil {
		return nil, errors.New("authentication enabled without a token authenticator")
	}

	s := &Server{
		cfg:     cfg,
		auth:    auth,
		deps:    deps,
		started: time.Now(),
		closing: make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	s.engine = engine
	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.engine.Use(RecoveryMiddleware(), SecurityHeadersMiddleware(), LoggingMiddleware())
	if s.limiter != nil {
		s.engine.Use(RateLimitMiddleware(s.limiter))
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "route not found")
	})
	s.engine.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group(APIPrefix, AuthMiddleware(s.deps.Tokens, s.auth))
	{
		readRoute(api, "/statuses/", s.handleListStatuses)
		readRoute(api, "/statuses/:id/", s.handleGetStatus, http.MethodDelete)
		api.DELETE("/statuses/:id/", s.handleDeleteStatus)
		api.POST("/statuses/:id/cancel/", s.handleCancelStatus)

		readRoute(api, "/artifacts/", s.handleListArtifacts)
		readRoute(api, "/artifacts/:id/", s.handleGetArtifact)
		readRoute(api, "/artifacts/:id/file", s.handleArtifactFile)

		if s.deps.Signals != nil {
			api.GET("/signals", s.handleSignals)
		}
	}
}

// readMethods are the verbs the access policy treats as reads.
var readMethods = access.MethodsFor(access.CapView)

// readRoute registers h for every read verb. OPTIONS runs the same checks
// as GET and lists the verbs the path accepts in the Allow header.
func readRoute(g *gin.RouterGroup, relPath string, h gin.HandlerFunc, others ...string) {
	allow := strings.Join(append(append([]string{}, readMethods...), others...), ", ")
	for _, m := range readMethods {
		if m == http.MethodOptions {
			g.Handle(m, relPath, func(c *gin.Context) { c.Header("Allow", allow) }, h)
			continue
		}
		g.Handle(m, relPath, h)
	}
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime_seconds"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.deps.Version,
		Uptime:   int64(time.Since(s.started).Seconds()),
		Database: "ok",
	}
	code := http.StatusOK
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, resp)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on cfg.Addr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	ctx, stop := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		_ = ln.Close()
		return nil
	}
	s.server = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.stop = stop
	srv := s.server
	s.mu.Unlock()

	go s.cleanupLoop(ctx)

	logger.Logger.Info().
		Str("event", "server_start").
		Str("addr", ln.Addr().String()).
		Str("version", s.deps.Version).
		Bool("auth", s.auth.Enabled).
		Msg("serving task status API")

	err := srv.Serve(ln)
	stop()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv, stop := s.server, s.stop
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closing) })
	if srv == nil {
		return nil
	}

	logger.Logger.Info().Str("event", "server_shutdown").Msg("starting graceful shutdown")
	if stop != nil {
		stop()
	}
	return srv.Shutdown(ctx)
}

// cleanupLoop periodically drops idle rate-limit buckets.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			if s.limiter != nil {
				removed += s.limiter.Cleanup(limiterIdle)
			}
			if s.deps.Limiters != nil {
				removed += s.deps.Limiters.CleanupLimiters(limiterIdle)
			}
			if removed > 0 {
				ev := logger.Logger.Debug().Int("removed", removed)
				if s.limiter != nil {
					ev = ev.Int("ip_limiters", s.limiter.Len())
				}
				ev.Msg("idle rate limiters dropped")
			}
		}
	}
}

// publicURL returns the configured base URL without a trailing slash.
func (s *Server) publicURL() string {
	return strings.TrimRight(s.cfg.PublicURL, "/")
}
