// Package taxtable holds the statutory caps, rates and brackets that change
// from one tax year to the next. Tables are injected into calculators through
// a Registry; a lookup for an unregistered year fails instead of borrowing a
// neighbouring year's figures.
package taxtable

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/farmtax/internal/model"
)

//go:embed tables.yaml
var builtinTables []byte

// Bracket is a marginal rate applied to income above Over, up to the next bracket's Over.
type Bracket struct {
	Over decimal.Decimal `yaml:"over"`
	Rate decimal.Decimal `yaml:"rate"`
}

// Brackets is an ascending bracket schedule starting at zero.
type Brackets []Bracket

// Section179 holds the expensing cap and its investment phase-out.
type Section179 struct {
	Cap               decimal.Decimal `yaml:"cap"`
	PhaseOutThreshold decimal.Decimal `yaml:"phase_out_threshold"`
}

// SelfEmployment holds the Schedule SE rates for a year.
type SelfEmployment struct {
	EarningsFactor              decimal.Decimal                        `yaml:"earnings_factor"`
	MinimumEarnings             decimal.Decimal                        `yaml:"minimum_earnings"`
	WageBase                    decimal.Decimal                        `yaml:"wage_base"`
	SocialSecurityRate          decimal.Decimal                        `yaml:"social_security_rate"`
	MedicareRate                decimal.Decimal                        `yaml:"medicare_rate"`
	AdditionalMedicareRate      decimal.Decimal                        `yaml:"additional_medicare_rate"`
	AdditionalMedicareThreshold map[model.FilingStatus]decimal.Decimal `yaml:"additional_medicare_threshold"`
}

// Federal holds the income tax schedule for a year.
type Federal struct {
	StandardDeduction map[model.FilingStatus]decimal.Decimal `yaml:"standard_deduction"`
	Brackets          map[model.FilingStatus]Brackets        `yaml:"brackets"`
}

// State holds one state's income tax schedule for a year. A state with no
// brackets levies no income tax.
type State struct {
	StandardDeduction  map[model.FilingStatus]decimal.Decimal `yaml:"standard_deduction"`
	PersonalExemption  decimal.Decimal                        `yaml:"personal_exemption"`
	DependentExemption decimal.Decimal                        `yaml:"dependent_exemption"`
	Brackets           map[model.FilingStatus]Brackets        `yaml:"brackets"`
}

// Year is every table needed to compute one tax year.
type Year struct {
	Year           int               `yaml:"-"`
	Section179     Section179        `yaml:"section179"`
	BonusRate      decimal.Decimal   `yaml:"bonus_rate"`
	SelfEmployment SelfEmployment    `yaml:"self_employment"`
	Federal        Federal           `yaml:"federal"`
	States         map[string]*State `yaml:"states"`
}

type file struct {
	Years map[int]*Year `yaml:"years"`
}

// FederalBrackets returns the bracket schedule for a filing status.
func (y *Year) FederalBrackets(status model.FilingStatus) (Brackets, error) {
	b, ok := y.Federal.Brackets[status]
	if !ok {
		return nil, fmt.Errorf("%d federal table has no %s brackets", y.Year, status)
	}
	return b, nil
}

// StandardDeduction returns the federal standard deduction for a filing status.
func (y *Year) StandardDeduction(status model.FilingStatus) (decimal.Decimal, error) {
	d, ok := y.Federal.StandardDeduction[status]
	if !ok {
		return decimal.Zero, fmt.Errorf("%d federal table has no %s standard deduction", y.Year, status)
	}
	return d, nil
}

// State returns the table for a state code.
func (y *Year) State(code string) (*State, error) {
	s, ok := y.States[code]
	if !ok || s == nil {
		return nil, &model.UnsupportedTaxYearError{Year: y.Year, Table: "state " + code}
	}
	return s, nil
}

// Validate checks that the year is internally consistent.
func (y *Year) Validate() error {
	if y.Section179.Cap.IsNegative() || y.Section179.PhaseOutThreshold.IsNegative() {
		return fmt.Errorf("%d: negative Section 179 limits", y.Year)
	}
	if y.BonusRate.IsNegative() || y.BonusRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%d: bonus rate %s outside 0..1", y.Year, y.BonusRate)
	}
	if !y.SelfEmployment.WageBase.IsPositive() {
		return fmt.Errorf("%d: wage base must be positive", y.Year)
	}
	for _, status := range model.FilingStatuses {
		if _, ok := y.Federal.StandardDeduction[status]; !ok {
			return fmt.Errorf("%d: missing federal standard deduction for %s", y.Year, status)
		}
		if _, ok := y.SelfEmployment.AdditionalMedicareThreshold[status]; !ok {
			return fmt.Errorf("%d: missing additional Medicare threshold for %s", y.Year, status)
		}
		if err := y.Federal.Brackets[status].validate(); err != nil {
			return fmt.Errorf("%d federal %s: %w", y.Year, status, err)
		}
	}
	for code, s := range y.States {
		if s == nil || len(s.Brackets) == 0 {
			continue
		}
		for _, status := range model.FilingStatuses {
			if err := s.Brackets[status].validate(); err != nil {
				return fmt.Errorf("%d state %s %s: %w", y.Year, code, status, err)
			}
		}
	}
	return nil
}

func (b Brackets) validate() error {
	if len(b) == 0 {
		return fmt.Errorf("no brackets")
	}
	if !b[0].Over.IsZero() {
		return fmt.Errorf("first bracket must start at 0, got %s", b[0].Over)
	}
	for i, br := range b {
		if br.Rate.IsNegative() || br.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("bracket %d rate %s outside 0..1", i, br.Rate)
		}
		if i > 0 && !br.Over.GreaterThan(b[i-1].Over) {
			return fmt.Errorf("bracket %d threshold %s not ascending", i, br.Over)
		}
	}
	return nil
}

// Parse reads a tables document and validates every year in it.
func Parse(data []byte) ([]*Year, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tax tables: %w", err)
	}
	years := make([]*Year, 0, len(f.Years))
	for y, t := range f.Years {
		if t == nil {
			return nil, fmt.Errorf("tax table %d is empty", y)
		}
		t.Year = y
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid tax table: %w", err)
		}
		years = append(years, t)
	}
	sort.Slice(years, func(i, j int) bool { return years[i].Year < years[j].Year })
	return years, nil
}

// LoadFile reads and parses a tables file from disk.
func LoadFile(path string) ([]*Year, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tax tables: %w", err)
	}
	return Parse(data)
}

// Marshal encodes years in the same document shape Parse reads.
func Marshal(years []*Year) ([]byte, error) {
	f := file{Years: make(map[int]*Year, len(years))}
	for _, y := range years {
		f.Years[y.Year] = y
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("marshaling tax tables: %w", err)
	}
	return data, nil
}
