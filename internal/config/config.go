package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/farmtax/internal/election"
	"github.com/cleared-dev/farmtax/internal/model"
)

// FileName is the project configuration file.
const FileName = "farmtax.yaml"

// Environment variables that override the file.
const (
	EnvTaxYear      = "FARMTAX_TAX_YEAR"
	EnvFilingStatus = "FARMTAX_FILING_STATUS"
	EnvState        = "FARMTAX_STATE"
	EnvObjective    = "FARMTAX_OBJECTIVE"
)

// Config represents the top-level farmtax.yaml configuration.
type Config struct {
	Taxpayer     TaxpayerConfig     `yaml:"taxpayer"`
	TaxYear      int                `yaml:"tax_year" validate:"gte=2000,lte=2100"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Elections    []ElectionConfig   `yaml:"elections,omitempty" validate:"dive"`
	Averaging    AveragingConfig    `yaml:"averaging,omitempty"`
	Estimates    EstimatesConfig    `yaml:"estimates,omitempty"`
	Data         DataConfig         `yaml:"data"`
	Logging      LoggingConfig      `yaml:"logging"`
	Concurrency  int                `yaml:"concurrency" validate:"gte=0"`
}

// TaxpayerConfig identifies the individual whose return the entities flow through.
type TaxpayerConfig struct {
	Name         string `yaml:"name" validate:"required"`
	FilingStatus string `yaml:"filing_status" validate:"required,oneof=single married_filing_jointly married_filing_separately head_of_household"`
	State        string `yaml:"state" validate:"omitempty,len=2"`
	Exemptions   int    `yaml:"exemptions" validate:"gte=0"`
	Dependents   int    `yaml:"dependents" validate:"gte=0"`
}

// OptimizationConfig selects how Section 179 is allocated.
type OptimizationConfig struct {
	Objective string `yaml:"objective" validate:"omitempty,oneof=minimize_current_tax spread_deductions"`
}

// ElectionConfig is a per-asset Section 179 request or bonus opt-out.
type ElectionConfig struct {
	AssetID     string           `yaml:"asset_id" validate:"required"`
	Section179  *decimal.Decimal `yaml:"section179,omitempty"`
	BonusOptOut bool             `yaml:"bonus_opt_out,omitempty"`
}

// AveragingConfig holds the Schedule J inputs that come from prior returns.
type AveragingConfig struct {
	ElectedFarmIncome *decimal.Decimal        `yaml:"elected_farm_income,omitempty"`
	BaseYears         map[int]decimal.Decimal `yaml:"base_years,omitempty"`
	PriorFarmIncome   map[int]decimal.Decimal `yaml:"prior_farm_income,omitempty"`
}

// EstimatesConfig holds last year's return and payments made so far.
type EstimatesConfig struct {
	PriorYearTax *decimal.Decimal  `yaml:"prior_year_tax,omitempty"`
	PriorYearAGI *decimal.Decimal  `yaml:"prior_year_agi,omitempty"`
	Payments     []decimal.Decimal `yaml:"payments,omitempty"`
}

// DataConfig locates the record files and any extra tax tables.
type DataConfig struct {
	Dir    string `yaml:"dir"`
	Tables string `yaml:"tables,omitempty"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// Load reads a farmtax.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default(taxpayerName string, taxYear int) *Config {
	return &Config{
		Taxpayer: TaxpayerConfig{
			Name:         taxpayerName,
			FilingStatus: string(model.MarriedFilingJointly),
			State:        model.DefaultState,
			Exemptions:   2,
		},
		TaxYear: taxYear,
		Optimization: OptimizationConfig{
			Objective: string(election.MinimizeCurrentTax),
		},
		Data: DataConfig{
			Dir: "data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ApplyEnv overrides fields from the environment. Values from envFile are
// used only for variables not already set in the process environment. A
// missing envFile is not an error.
func (c *Config) ApplyEnv(envFile string) error {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", envFile, err)
		}
		if vals != nil {
			fileVals = vals
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}

	if v, ok := lookup(EnvTaxYear); ok {
		year, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTaxYear, err)
		}
		c.TaxYear = year
	}
	if v, ok := lookup(EnvFilingStatus); ok {
		c.Taxpayer.FilingStatus = v
	}
	if v, ok := lookup(EnvState); ok {
		c.Taxpayer.State = v
	}
	if v, ok := lookup(EnvObjective); ok {
		c.Optimization.Objective = v
	}
	return nil
}

// Validate checks field values with struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// FilingStatus returns the taxpayer's filing status as a typed value.
func (c *Config) FilingStatus() model.FilingStatus {
	return model.FilingStatus(c.Taxpayer.FilingStatus)
}

// State returns the taxpayer's state of residence, defaulting to
// model.DefaultState.
func (c *Config) State() string {
	if c.Taxpayer.State == "" {
		return model.DefaultState
	}
	return strings.ToUpper(c.Taxpayer.State)
}

// Objective returns the optimization objective as a typed value.
func (c *Config) Objective() election.Objective {
	return election.Objective(c.Optimization.Objective)
}

// Requested returns the per-asset Section 179 requests and bonus opt-outs.
func (c *Config) Requested() (map[string]decimal.Decimal, map[string]bool) {
	amounts := map[string]decimal.Decimal{}
	optOut := map[string]bool{}
	for _, el := range c.Elections {
		if el.Section179 != nil {
			amounts[el.AssetID] = *el.Section179
		}
		if el.BonusOptOut {
			optOut[el.AssetID] = true
		}
	}
	return amounts, optOut
}

// DataDir resolves the record directory relative to the config file's directory.
func (c *Config) DataDir(root string) string {
	if filepath.IsAbs(c.Data.Dir) {
		return c.Data.Dir
	}
	return filepath.Join(root, c.Data.Dir)
}

// TablesPath resolves the extra tables file, or returns "" if none is set.
func (c *Config) TablesPath(root string) string {
	if c.Data.Tables == "" || filepath.IsAbs(c.Data.Tables) {
		return c.Data.Tables
	}
	return filepath.Join(root, c.Data.Tables)
}
