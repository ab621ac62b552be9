// Package mcptools exposes the matching engine as MCP tools over stdio so
// assistants can rank trials, screen a single trial and browse match
// history without the HTTP surface.
package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/history"
	"github.com/trial-match-server/internal/normalize"
	"github.com/trial-match-server/internal/service"
)

// TrialFetcher pulls trials from an external registry. The resilient
// registry client satisfies it; nil disables registry-backed lookups.
type TrialFetcher interface {
	GetStudy(ctx context.Context, trialID string) (*domain.RawTrial, error)
	SearchByCondition(ctx context.Context, condition string, maxResults int) ([]*domain.RawTrial, error)
}

// Server is a lightweight MCP server that requires no external databases.
// It keeps match history in SQLite under the configured data directory.
type Server struct {
	config       *config.LiteConfig
	mcpServer    *mcp.Server
	historyStore history.Store
	fetcher      TrialFetcher
	matcher      *service.MatcherService
	screener     *service.ScreenerService
	normalizer   *normalize.Service
	logger       *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithHistoryStore sets a custom match history store.
func WithHistoryStore(store history.Store) ServerOption {
	return func(s *Server) error {
		s.historyStore = store
		return nil
	}
}

// WithTrialFetcher sets a registry client for trial lookups.
func WithTrialFetcher(fetcher TrialFetcher) ServerOption {
	return func(s *Server) error {
		s.fetcher = fetcher
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// NewServer creates a new MCP server instance.
func NewServer(cfg *config.LiteConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	server.logger.SetLevel(level)

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.historyStore == nil {
		store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create history store: %w", err)
		}
		server.historyStore = store
	}

	policy := domain.DefaultScoringPolicy()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring policy: %w", err)
	}

	server.normalizer = normalize.NewService(server.logger)
	engine := service.NewRuleEngine(server.logger, policy, nil)
	server.matcher = service.NewMatcherService(server.logger, server.normalizer, engine, policy, 4)
	server.screener = service.NewScreenerService(server.logger, server.normalizer, server.matcher)

	serverInfo := &mcp.Implementation{
		Name:    "trial-match-server",
		Version: "v0.1.0",
	}
	mcpServer := mcp.NewServer(serverInfo, nil)
	server.mcpServer = mcpServer

	server.registerTools()

	server.logger.Info("MCP server initialized successfully")
	return server, nil
}

// registerTools wires every tool into the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "match_trials",
		Description: "Rank clinical trials for a patient profile. Accepts inline trials or, when a registry is configured, a condition to search for. Returns matches sorted by score with per-dimension explanations.",
	}, s.handleMatchTrials)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "screen_trial",
		Description: "Screen a patient against one trial in depth. Returns the overall eligibility percentage plus strengths, concerns and recommendations.",
	}, s.handleScreenTrial)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_match_history",
		Description: "List a user's stored match results, newest first.",
	}, s.handleGetMatchHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_match_history",
		Description: "Export all stored match history to a timestamped JSON file in the export directory.",
	}, s.handleExportHistory)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "import_match_history",
		Description: "Import match history records from a JSON export file. Existing user+trial records are skipped.",
	}, s.handleImportHistory)

	s.logger.WithField("tool_count", 5).Info("Registered MCP tools")
}

// Start runs the MCP server over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.config.Transport).Info("Starting MCP server")

	// The SDK speaks stdio; other transport values fall back with a warning.
	if s.config.Transport != "stdio" {
		s.logger.WithField("transport", s.config.Transport).Warn("Unsupported transport, falling back to stdio")
	}

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *Server) Close() error {
	if s.historyStore != nil {
		if err := s.historyStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close history store")
			return err
		}
	}
	return nil
}

// HistoryStore returns the history store for external access.
func (s *Server) HistoryStore() history.Store {
	return s.historyStore
}
