// Package web serves the task synchronization service over HTTP: REST
// mutations plus server-sent event streams for observers.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/valter-silva-au/tasksync/internal/core"
)

// WorkspaceHeader selects the workspace a request operates on. The
// "workspace" query parameter is accepted as well.
const WorkspaceHeader = "X-Tasksync-Workspace"

// ServerConfig configures a Server.
type ServerConfig struct {
	Service core.SyncService
	Logger  *slog.Logger
	// Buffer is the number of snapshots a stream may queue before the
	// registry considers it stalled.
	Buffer int
	// KeepAlive is the interval of ping events on idle streams.
	KeepAlive time.Duration
}

// Server is the tasksync HTTP transport.
type Server struct {
	svc       core.SyncService
	router    *gin.Engine
	logger    *slog.Logger
	buffer    int
	keepAlive time.Duration
}

// NewServer creates the router and registers all routes.
func NewServer(cfg ServerConfig) *Server {
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	s := &Server{
		svc:       cfg.Service,
		router:    router,
		logger:    cfg.Logger,
		buffer:    cfg.Buffer,
		keepAlive: cfg.KeepAlive,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.buffer < 1 {
		s.buffer = 1
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}

	router.Use(gin.Recovery(), s.requestLogger(), workspaceScope())

	api := router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/tasks", s.handleCurrent)
		api.POST("/tasks/load", s.handleLoad)
		api.POST("/tasks/refresh", s.handleRefresh)
		api.POST("/tasks/reset", s.handleReset)
		api.POST("/tasks/status", s.handleUpdateStatus)
		api.GET("/tasks/stream", s.handleStream)

		api.POST("/tasks/build", s.handleRequestBuild)
		api.GET("/tasks/build/stream", s.handleBuildStream)
	}

	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled. Open streams end when ctx is
// cancelled because request contexts derive from it.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	}
}

// workspaceScope puts an explicit workspace key on the request context.
func workspaceScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(WorkspaceHeader)
		if key == "" {
			key = c.Query("workspace")
		}
		if key != "" {
			c.Request = c.Request.WithContext(core.WithWorkspaceKey(c.Request.Context(), key))
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
