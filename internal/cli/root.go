// Package cli implements prorrogactl, the offline command-line front end to
// correlation scoring, chain building and reference data checks.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/prorroga-chain-server/internal/chain"
	"github.com/prorroga-chain-server/internal/config"
	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/feedback"
	"github.com/prorroga-chain-server/internal/reference"
	"github.com/prorroga-chain-server/internal/scoring"
	"github.com/prorroga-chain-server/internal/service"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath    string
	ReferencePath string
	LedgerPath    string
	LogLevel      string
	OutputFormat  string
	Timeout       time.Duration
}

type cliContextKey struct{}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Service *service.ProrrogaService
	Out     io.Writer
	Format  string
	ledger  *feedback.Ledger
	cancel  context.CancelFunc
}

func (cc *CLIContext) close() error {
	if cc.cancel != nil {
		cc.cancel()
	}
	if cc.ledger != nil {
		return cc.ledger.Close()
	}
	return nil
}

// NewRootCommand creates the root command with its global flags and subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "prorrogactl",
		Short:   "Score diagnosis correlations and build prórroga chains offline",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				return cc.close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: search ./config.yaml)")
	pf.StringVar(&opts.ReferencePath, "reference", "", "reference data JSON (default: built-in tables)")
	pf.StringVar(&opts.LedgerPath, "ledger", "", "SQLite correlation ledger to blend into scores")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json)")
	pf.DurationVar(&opts.Timeout, "timeout", time.Minute, "global operation timeout")

	cmd.AddCommand(newScoreCmd())
	cmd.AddCommand(newChainsCmd())
	cmd.AddCommand(newReferenceCmd())

	return cmd
}

// Execute runs the root command.
func Execute() int {
	root := NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	if opts.OutputFormat != "text" && opts.OutputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (must be text or json)", opts.OutputFormat)
	}

	// Reference checks work on files alone
	if cmd.Annotations["offline"] == "true" {
		cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, &CLIContext{
			Out:    cmd.OutOrStdout(),
			Format: opts.OutputFormat,
		}))
		return nil
	}

	mgr, err := config.NewManagerFromFile(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg := mgr.GetConfig()
	logger := config.NewLogger(opts.LogLevel, "text", "stderr")

	refPath := opts.ReferencePath
	if refPath == "" {
		refPath = cfg.Reference.Path
	}
	repo, err := reference.NewRepository(refPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load reference data: %w", err)
	}

	var ledger *feedback.Ledger
	if opts.LedgerPath != "" {
		store, err := feedback.NewSQLiteStore(opts.LedgerPath)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		ledger = feedback.NewLedger(store, cfg.Ledger.MinSamples, logger)
		if err := ledger.Load(cmd.Context()); err != nil {
			ledger.Close()
			return fmt.Errorf("failed to load ledger: %w", err)
		}
	}

	var history scoring.HistoricalSource
	if ledger != nil {
		history = ledger
	}
	scorer, err := scoring.NewScorer(repo, history, scoring.ConfigFrom(cfg.Scoring), logger)
	if err != nil {
		return fmt.Errorf("failed to create scorer: %w", err)
	}
	builder := chain.NewBuilder(scorer, chain.ConfigFrom(cfg.Chain), logger)

	svcOpts := []service.Option{service.WithAnalysisConfig(cfg.Analysis)}
	if cfg.Thresholds.Critical > 0 {
		svcOpts = append(svcOpts, service.WithThresholds(cfg.Thresholds))
	}
	svc := service.NewProrrogaService(logger, repo, scorer, builder, ledger, svcOpts...)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{
		Service: svc,
		Out:     cmd.OutOrStdout(),
		Format:  opts.OutputFormat,
		ledger:  ledger,
		cancel:  cancel,
	}))
	return nil
}

// GetCLIContext extracts the CLIContext set up by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		return nil, fmt.Errorf("CLI context not initialized")
	}
	return cc, nil
}

// printJSON writes v as indented JSON.
func (cc *CLIContext) printJSON(v interface{}) error {
	enc := json.NewEncoder(cc.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readCases decodes a JSON array of leave cases from a file, "-" meaning stdin.
func readCases(cmd *cobra.Command, path string) ([]domain.LeaveCase, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cases file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var cases []domain.LeaveCase
	if err := json.NewDecoder(r).Decode(&cases); err != nil {
		return nil, fmt.Errorf("failed to decode cases: %w", err)
	}
	return cases, nil
}
