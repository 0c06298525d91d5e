package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleared-dev/farmtax/internal/buildinfo"
	"github.com/cleared-dev/farmtax/internal/config"
	"github.com/cleared-dev/farmtax/internal/consolidate"
	"github.com/cleared-dev/farmtax/internal/engine"
	"github.com/cleared-dev/farmtax/internal/metrics"
	"github.com/cleared-dev/farmtax/internal/snapshot"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dir      string
	envFile  string
	year     int
	logLevel string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "farmtax",
		Short:   "Farm depreciation and tax planning",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.dir, "dir", "C", ".", "project directory containing "+config.FileName)
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file with overrides (default <dir>/.env)")
	flags.IntVar(&opts.year, "year", 0, "tax year (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(
		newInitCommand(),
		newScheduleCommand(opts),
		newTaxCommand(opts),
		newConsolidateCommand(opts),
		newAverageCommand(opts),
		newEstimateCommand(opts),
		newTablesCommand(opts),
		newHistoryCommand(opts),
	)

	return rootCmd
}

// project is a loaded project directory.
type project struct {
	root   string
	cfg    *config.Config
	tables *taxtable.Registry
	log    *zap.Logger
}

func openProject(cmd *cobra.Command, opts *globalOptions) (*project, error) {
	root, err := filepath.Abs(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no %s in %s (run farmtax init): %w", config.FileName, root, err)
		}
		return nil, err
	}

	envFile := opts.envFile
	if envFile == "" {
		envFile = filepath.Join(root, ".env")
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if opts.year != 0 {
		cfg.TaxYear = opts.year
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tables, err := taxtable.Builtin()
	if err != nil {
		return nil, err
	}
	if path := cfg.TablesPath(root); path != "" {
		years, err := taxtable.LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, y := range years {
			tables.Override(y)
		}
	}

	log, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	return &project{root: root, cfg: cfg, tables: tables, log: log}, nil
}

// profile is the taxpayer profile used for combined figures.
func (p *project) profile() consolidate.Profile {
	return consolidate.Profile{
		FilingStatus: p.cfg.FilingStatus(),
		State:        p.cfg.State(),
		Exemptions:   p.cfg.Taxpayer.Exemptions,
		Dependents:   p.cfg.Taxpayer.Dependents,
	}
}

// run loads the record files and computes the configured year.
func (p *project) run(ctx context.Context) (*engine.Report, error) {
	snap, err := snapshot.Load(p.cfg.DataDir(p.root))
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	amounts, optOut := p.cfg.Requested()
	eng := engine.New(p.tables, engine.WithLogger(p.log), engine.WithMetrics(metrics.New()))
	return eng.Run(ctx, snap, engine.Options{
		Year:        p.cfg.TaxYear,
		Profile:     p.profile(),
		Objective:   p.cfg.Objective(),
		Requested:   amounts,
		BonusOptOut: optOut,
		Concurrency: p.cfg.Concurrency,
	})
}
