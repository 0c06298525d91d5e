package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/config"
	"github.com/cleared-dev/farmtax/internal/snapshot"
)

func newInitCommand() *cobra.Command {
	var name string
	var year int

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new farmtax project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir, name, year)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "taxpayer name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().IntVar(&year, "tax-year", time.Now().Year()-1, "tax year to compute")

	return cmd
}

func runInit(out io.Writer, dir, name string, year int) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return fmt.Errorf("creating directory logs: %w", err)
	}

	cfg := config.Default(name, year)
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := snapshot.Scaffold(cfg.DataDir(dir)); err != nil {
		return fmt.Errorf("writing record files: %w", err)
	}

	env := "# Overrides for " + config.FileName + "; the process environment wins.\n" +
		"# " + config.EnvTaxYear + "=\n" +
		"# " + config.EnvFilingStatus + "=\n" +
		"# " + config.EnvState + "=\n" +
		"# " + config.EnvObjective + "=\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.example"), []byte(env), 0o644); err != nil {
		return fmt.Errorf("writing .env.example: %w", err)
	}

	gitignore := ".env\nlogs/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	fmt.Fprintf(out, "Initialized farmtax project at %s (tax year %d)\n", dir, year)
	return nil
}
