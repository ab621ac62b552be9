// Package main provides the MCP entry point for the trial matching server.
// It runs standalone over stdio with SQLite-backed match history and an
// optional registry client for trial lookups.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/mcptools"
	"github.com/trial-match-server/internal/setup"
	"github.com/trial-match-server/pkg/registry"
)

func main() {
	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI()
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	// Load lightweight configuration from environment
	cfg := config.LoadLiteConfig()

	log.Printf("Starting trial matching MCP server with transport: %s", cfg.Transport)
	log.Printf("Data directory: %s", cfg.DataDir)

	// Registry client for condition searches and trial lookups
	fetcher := registry.NewResilientClient(registry.NewClient(registry.Config{
		APIKey: cfg.RegistryAPIKey,
	}), nil, 0, nil)

	server, err := mcptools.NewServer(cfg, mcptools.WithTrialFetcher(fetcher))
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start MCP server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("MCP server failed: %v", err)
	}

	log.Println("Trial matching MCP server stopped")
}
