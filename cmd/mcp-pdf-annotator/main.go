package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-pdf-annotator/internal/config"
	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	"github.com/a3tai/mcp-pdf-annotator/internal/mcp"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/session"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the server mode
func setupLogging(cfg *config.Config) {
	if cfg.IsStdioMode() {
		// stdout carries the MCP protocol in stdio mode
		log.SetOutput(os.Stderr)
		if !cfg.IsDebug() {
			log.SetOutput(io.Discard)
		}
	} else {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// buildServer wires the document engine, the annotation store and the
// workspace into an MCP server. The returned cleanup closes open documents
// and the store.
func buildServer(cfg *config.Config) (*mcp.Server, func() error, error) {
	eng, err := engine.New(cfg.PDFDirectory, cfg.MaxFileSize, cfg.IsDebug())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create document engine: %w", err)
	}

	st, err := store.Open(cfg.DBDriver, cfg.DatabaseDSN(), schema.Default(), store.Options{Debug: cfg.IsDebug()})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open annotation store: %w", err)
	}

	ws := session.NewWorkspace(eng, st, cfg.PreviewCache, cfg.SessionOptions())
	cleanup := func() error {
		return errors.Join(ws.CloseAll(), st.Close())
	}

	server, err := mcp.NewServer(cfg, ws)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server, cleanup, nil
}

// runServerMode handles server mode execution with signal handling
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case sig := <-signalCh:
		log.Printf("Received signal: %s", sig)
		log.Println("Initiating graceful shutdown...")
		cancel()

		if err := <-serverErrCh; err != nil {
			return fmt.Errorf("server shutdown with error: %w", err)
		}

	case err := <-serverErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Println("Server stopped successfully")
	return nil
}

// runStdioMode handles stdio mode execution. The parent process controls the
// lifecycle by closing stdin.
func runStdioMode(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx)
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	if version != "dev" {
		cfg.Version = version
	}

	if cfg.IsDebug() {
		log.Printf("Starting with configuration: %s", cfg.String())
	}

	server, cleanup, err := buildServer(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if cfg.IsServerMode() {
		err = runServerMode(ctx, cancel, server)
	} else {
		err = runStdioMode(ctx, server)
	}
	cancel()

	if cerr := cleanup(); cerr != nil {
		log.Printf("Cleanup failed: %v", cerr)
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("MCP PDF Annotator\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}
