// Package server exposes the photo library over HTTP: a JSON API under /api
// and MCP (Model Context Protocol) tools at /mcp.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prismon/photo-library/pkg/auth"
	"github.com/prismon/photo-library/pkg/library"
	"github.com/prismon/photo-library/pkg/logger"
	"github.com/prismon/photo-library/pkg/query"
	"github.com/prismon/photo-library/pkg/queue"
	"github.com/prismon/photo-library/pkg/watch"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("server")
}

// FolderWatcher is the live-import side of watched folders
type FolderWatcher interface {
	Add(ctx context.Context, folder string) error
	Stats() watch.Stats
}

// TaskRunner is the dispatcher as seen by the API
type TaskRunner interface {
	Stats() queue.WorkerPoolStats
	Pause()
	Resume()
}

// Options wires the server to a running library
type Options struct {
	Engine   *library.Engine
	Pipeline *query.Pipeline
	Watcher  FolderWatcher // optional
	Tasks    TaskRunner    // optional
	CORS     *CORSConfig
	Version  string

	// Auth protects /api and /mcp when set. BaseURL is the public address
	// advertised in the protected resource metadata.
	Auth    *auth.Validator
	BaseURL string
}

// Server serves one library engine
type Server struct {
	engine   *library.Engine
	pipeline *query.Pipeline
	watcher  FolderWatcher
	tasks    TaskRunner
	version  string

	router *gin.Engine
	mcp    *server.MCPServer
}

// New builds the router and registers the MCP tools
func New(opts Options) *Server {
	if opts.Pipeline == nil {
		opts.Pipeline = query.NewPipeline(nil)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		engine:   opts.Engine,
		pipeline: opts.Pipeline,
		watcher:  opts.Watcher,
		tasks:    opts.Tasks,
		version:  opts.Version,
	}

	s.mcp = server.NewMCPServer(
		"photo-library",
		opts.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
	)
	s.registerMCPTools()
	s.registerMCPResources()

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), CORSMiddleware(opts.CORS))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
	})

	var protected []gin.HandlerFunc
	if opts.Auth != nil {
		protected = append(protected, auth.Middleware(opts.Auth))
		router.GET("/.well-known/oauth-protected-resource", auth.MetadataHandler(opts.Auth.Config(), opts.BaseURL))
	}
	s.registerAPI(router.Group("/api", protected...))

	mcpHTTPServer := server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
	router.Any("/mcp", append(protected, gin.WrapH(mcpHTTPServer))...)

	s.router = router
	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// MCP returns the MCP server for transports other than HTTP, such as stdio
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":         addr,
			"api":          "/api",
			"mcp_endpoint": "/mcp",
		}).Info("Photo library server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

// requestLogger logs each request at debug level and its completion at info
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		clientIP := c.ClientIP()
		if logger.IsLevelEnabled(logrus.DebugLevel) {
			log.WithFields(logrus.Fields{
				"method":    c.Request.Method,
				"path":      path,
				"query":     c.Request.URL.RawQuery,
				"clientIP":  clientIP,
				"userAgent": c.GetHeader("User-Agent"),
			}).Debug("Incoming request")
		}

		c.Next()

		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"clientIP": clientIP,
		}).Info("Request completed")
	}
}
