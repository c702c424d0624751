package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/export"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	workspace *session.Workspace
	schema    *schema.Schema
	exporter  *export.Exporter
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance over a workspace of open
// documents
func NewServer(cfg *config.Config, ws *session.Workspace) (*Server, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // the tool set is fixed
	)

	fields := schema.Default()
	s := &Server{
		config:    cfg,
		workspace: ws,
		schema:    fields,
		exporter:  export.NewExporter(ws.Store(), fields),
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	switch {
	case s.config.IsServerMode():
		return s.runServerMode(ctx)
	case s.config.IsStdioMode():
		return s.runStdioMode(ctx)
	default:
		return fmt.Errorf("unsupported mode: %s", s.config.Mode)
	}
}

// runStdioMode runs the server in stdio mode
func (s *Server) runStdioMode(_ context.Context) error {
	if s.config.IsDebug() {
		log.Printf("Starting PDF annotation MCP server in stdio mode")
		log.Printf("PDF directory: %s", s.config.PDFDirectory)
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE next to the HTTP endpoints until ctx is
// cancelled
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(sse),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting PDF annotation MCP server on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.config.IsDebug() {
		log.Printf("Shutting down HTTP server")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// open SSE streams never go idle
		_ = httpServer.Close()
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
	}
	return nil
}
