// Package server provides the MCP server that publishes the login pages as
// widgets, plus the HTTP routes of the login handshake.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/pages"
	"github.com/brizzai/social-login/internal/server/handler"
	"github.com/brizzai/social-login/internal/server/tool"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// shutdownTimeout is the maximum time to wait for server shutdown
	shutdownTimeout = 5 * time.Second
	// mcpPath is where the streamable HTTP endpoint is mounted.
	mcpPath = "/mcp"
)

// Server represents the MCP server instance. It supports SSE, HTTP and STDIO
// modes; the login routes are only served in the HTTP based modes.
type Server struct {
	config   *config.Config
	manifest *pages.Manifest
	mcp      *mcpserver.MCPServer
	handler  *handler.Handler
	tool     *tool.Handler

	// listen creates the HTTP listener; replaced in tests.
	listen func(network, addr string) (net.Listener, error)
}

// NewServer creates a new MCP server instance and registers every widget in
// the manifest as a tool and a resource.
func NewServer(cfg *config.Config, manifest *pages.Manifest, h *handler.Handler, th *tool.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if manifest == nil {
		return nil, fmt.Errorf("widget manifest cannot be nil")
	}

	mcpServer := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)

	srv := &Server{
		config:   cfg,
		manifest: manifest,
		mcp:      mcpServer,
		handler:  h,
		tool:     th,
		listen:   net.Listen,
	}
	srv.setupWidgets()
	return srv, nil
}

func (s *Server) setupWidgets() {
	for _, w := range s.manifest.Widgets {
		s.mcp.AddTool(s.tool.Tool(w), s.tool.CreateHandler(w))
		s.mcp.AddResource(s.tool.Resource(w), s.tool.CreateResourceHandler(w))
		logger.Debug("Registered widget", zap.String("tool", w.ID), zap.String("template", w.TemplateURI))
	}
	logger.Info("Registered widgets", zap.Int("count", len(s.manifest.Widgets)))
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

func (s *Server) ServeSSE(ctx context.Context) error {
	logger.Info("Starting SSE server")

	sseServer := mcpserver.NewSSEServer(
		s.mcp,
		mcpserver.WithBaseURL(fmt.Sprintf("http://%s:%d", s.config.Server.Host, s.config.Server.Port)),
	)

	return s.serveHTTP(ctx, "/", sseServer, "SSE")
}

func (s *Server) ServeHTTP(ctx context.Context) error {
	logger.Info("Starting HTTP server")
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcp)
	return s.serveHTTP(ctx, mcpPath, httpServer, "HTTP")
}

func (s *Server) serveHTTP(ctx context.Context, path string, mcpHandler http.Handler, mode string) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	ln, err := s.listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.handler.CreateHTTPHandler(path, mcpHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel for server errors
	errChan := make(chan error, 1)

	go func() {
		logger.Info("Starting server",
			zap.String("mode", mode),
			zap.String("address", ln.Addr().String()),
		)

		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server",
			zap.String("mode", mode),
			zap.Duration("timeout", shutdownTimeout),
		)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not closed by Shutdown.
		if err := s.handler.Stop(shutdownCtx); err != nil {
			logger.Warn("Failed to stop page sessions", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

func (s *Server) ServeSTDIO(ctx context.Context) error {
	logger.Info("Starting STDIO server")
	logger.Warn("Login routes are not served in stdio mode")
	stdioServer := mcpserver.NewStdioServer(s.mcp)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// Start starts the server in the configured mode (SSE, HTTP, or STDIO).
// It returns an error if the server fails to start or encounters an error
// during operation.
func (s *Server) Start(ctx context.Context) error {
	logger.Info("Starting server",
		zap.String("mode", string(s.config.Server.Mode)),
		zap.String("version", s.config.Server.Version),
	)

	switch s.config.Server.Mode {
	case config.ServerModeSSE:
		return s.ServeSSE(ctx)
	case config.ServerModeHTTP:
		return s.ServeHTTP(ctx)
	case config.ServerModeSTDIO:
		return s.ServeSTDIO(ctx)
	default:
		return fmt.Errorf("unsupported server mode: %s", s.config.Server.Mode)
	}
}

// Module provides the MCP server dependencies
var Module = fx.Module("mcp_server",
	fx.Provide(
		NewServer,
		handler.NewHandler,
		tool.NewHandler,
	),
)
