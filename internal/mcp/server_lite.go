// Package mcp exposes the prórroga chain service as an MCP server.
// The lite server needs no external services: reference data is read from a
// local file or the built-in tables and the ledger lives in SQLite.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	litecfg "github.com/prorroga-chain-server/internal/config"
	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/scoring"
	"github.com/prorroga-chain-server/internal/service"
)

// ServerVersion is reported to MCP clients during initialization.
var ServerVersion = "v0.1.0"

// LiteServer is a lightweight MCP server that requires no external databases.
type LiteServer struct {
	config    *litecfg.LiteConfig
	mcpServer *mcp.Server
	repo      *reference.Repository
	ledger    *feedback.Ledger
	store     feedback.Store
	service   *service.ProrrogaService
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLedgerStore sets a custom ledger store instead of the SQLite file.
func WithLedgerStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: cfg.Logger(),
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.store == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := feedback.NewSQLiteStore(cfg.LedgerDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create ledger store: %w", err)
		}
		server.store = store
	}

	repo, err := reference.NewRepository(cfg.ReferencePath, server.logger)
	if err != nil {
		server.store.Close()
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	server.repo = repo

	server.ledger = feedback.NewLedger(server.store, cfg.MinSamples, server.logger)
	if err := server.ledger.Load(context.Background()); err != nil {
		server.store.Close()
		return nil, fmt.Errorf("failed to load correlation ledger: %w", err)
	}

	scorer, err := scoring.NewScorer(repo, server.ledger, scoring.Config{CacheSize: cfg.ScoreCacheSize}, server.logger)
	if err != nil {
		server.store.Close()
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}
	builder := chain.NewBuilder(scorer, chain.Config{}, server.logger)
	server.service = service.NewProrrogaService(server.logger, repo, scorer, builder, server.ledger)

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "prorroga-chain-server-lite",
		Version: ServerVersion,
	}, nil)

	tools := newToolSet(server.service, server.ledger, cfg.ExportDir(), server.logger)
	tools.register(server.mcpServer)

	server.logger.WithFields(logrus.Fields{
		"reference": repo.Snapshot().Version(),
		"ledger":    server.ledger.Size(),
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP on the configured transport until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.config.Transport).Debug("Serving MCP")

	if s.config.WatchReference && s.repo.Path() != "" {
		go func() {
			if err := s.repo.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Warn("Reference watcher stopped")
			}
		}()
	}

	switch s.config.Transport {
	case "stdio", "":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport: %s", s.config.Transport)
	}
}

func (s *LiteServer) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("MCP streamable HTTP transport listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Connect attaches the server to an arbitrary transport, e.g. an in-memory pair.
func (s *LiteServer) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

// Service returns the underlying service.
func (s *LiteServer) Service() *service.ProrrogaService {
	return s.service
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close ledger store")
			return err
		}
	}
	return nil
}
