// Package averaging evaluates farm income averaging (Schedule J): part of the
// current year's farm income is taxed at the marginal rates of the three
// prior base years instead of the current year's.
package averaging

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/tax"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

// LimitTaxableIncome names the clamp applied when the elected amount exceeds
// current taxable income.
const LimitTaxableIncome = "elected farm income above taxable income"

const baseYears = 3

// BaseYear is one prior year's taxable income as filed.
type BaseYear struct {
	Year          int
	TaxableIncome decimal.Decimal
}

// Input describes one averaging election.
type Input struct {
	Year                 int
	FilingStatus         model.FilingStatus
	CurrentTaxableIncome decimal.Decimal
	ElectedFarmIncome    decimal.Decimal
	// BaseYears must hold exactly the three years before Year, in any order.
	BaseYears []BaseYear
}

// YearShare is the effect of the election on one base year.
type YearShare struct {
	Year        int
	BaseTaxable decimal.Decimal
	Added       decimal.Decimal
	BaseTax     decimal.Decimal
	AveragedTax decimal.Decimal
	Increase    decimal.Decimal
}

// Result compares averaged and ordinary tax. Both are always reported.
type Result struct {
	Year         int
	Elected      decimal.Decimal
	OrdinaryTax  decimal.Decimal
	ResidualTax  decimal.Decimal // current-year tax on taxable income less Elected
	AveragedTax  decimal.Decimal
	Breakdown    []YearShare
	UseAveraging bool
	Selected     decimal.Decimal
	Savings      decimal.Decimal
	Warnings     []model.PolicyLimitExceeded
}

// Engine evaluates averaging elections with each year's own brackets.
type Engine struct {
	tables *taxtable.Registry
}

// New creates an Engine.
func New(tables *taxtable.Registry) *Engine {
	return &Engine{tables: tables}
}

// Evaluate spreads the elected income evenly over the base years and returns
// whichever of averaged or ordinary tax is lower.
func (e *Engine) Evaluate(in Input) (Result, error) {
	if !in.FilingStatus.Valid() {
		return Result{}, &model.InputValidationError{Field: "FilingStatus", Message: fmt.Sprintf("unknown filing status %q", in.FilingStatus)}
	}
	if in.ElectedFarmIncome.IsNegative() {
		return Result{}, &model.InputValidationError{Field: "ElectedFarmIncome", Message: "elected farm income must not be negative"}
	}
	bases, err := orderBaseYears(in.Year, in.BaseYears)
	if err != nil {
		return Result{}, err
	}

	current, err := e.brackets(in.Year, in.FilingStatus)
	if err != nil {
		return Result{}, err
	}

	res := Result{Year: in.Year, Elected: in.ElectedFarmIncome}
	taxable := decimal.Max(decimal.Zero, in.CurrentTaxableIncome)
	if res.Elected.GreaterThan(taxable) {
		res.Warnings = append(res.Warnings, model.PolicyLimitExceeded{
			Limit:     LimitTaxableIncome,
			Record:    fmt.Sprintf("%d", in.Year),
			Requested: res.Elected,
			Allowed:   taxable,
		})
		res.Elected = taxable
	}

	res.OrdinaryTax, _ = tax.BracketTax(current, taxable)
	res.ResidualTax, _ = tax.BracketTax(current, taxable.Sub(res.Elected))
	res.AveragedTax = res.ResidualTax

	third := res.Elected.Div(decimal.NewFromInt(baseYears)).Round(2)
	for i, b := range bases {
		brackets, err := e.brackets(b.Year, in.FilingStatus)
		if err != nil {
			return Result{}, fmt.Errorf("base year %d: %w", b.Year, err)
		}
		share := YearShare{Year: b.Year, BaseTaxable: b.TaxableIncome, Added: third}
		if i == baseYears-1 {
			share.Added = res.Elected.Sub(third.Mul(decimal.NewFromInt(baseYears - 1)))
		}
		share.BaseTax, _ = tax.BracketTax(brackets, b.TaxableIncome)
		share.AveragedTax, _ = tax.BracketTax(brackets, b.TaxableIncome.Add(share.Added))
		share.Increase = share.AveragedTax.Sub(share.BaseTax)
		res.AveragedTax = res.AveragedTax.Add(share.Increase)
		res.Breakdown = append(res.Breakdown, share)
	}

	res.Selected = res.OrdinaryTax
	res.Savings = decimal.Zero
	if res.AveragedTax.LessThan(res.OrdinaryTax) {
		res.UseAveraging = true
		res.Selected = res.AveragedTax
		res.Savings = res.OrdinaryTax.Sub(res.AveragedTax)
	}
	return res, nil
}

func (e *Engine) brackets(year int, status model.FilingStatus) (taxtable.Brackets, error) {
	y, err := e.tables.Lookup(year)
	if err != nil {
		return nil, err
	}
	return y.FederalBrackets(status)
}

func orderBaseYears(year int, in []BaseYear) ([]BaseYear, error) {
	if len(in) != baseYears {
		return nil, &model.InputValidationError{
			Field:   "BaseYears",
			Message: fmt.Sprintf("need %d base years, got %d", baseYears, len(in)),
		}
	}
	out := make([]BaseYear, baseYears)
	filled := make([]bool, baseYears)
	for _, b := range in {
		i := b.Year - (year - baseYears)
		if i < 0 || i >= baseYears || filled[i] {
			return nil, &model.InputValidationError{
				Record:  fmt.Sprintf("%d", b.Year),
				Field:   "BaseYears",
				Message: fmt.Sprintf("base years for %d must be %d-%d, each once", year, year-baseYears, year-1),
			}
		}
		out[i], filled[i] = b, true
	}
	return out, nil
}

// SuggestElection returns the current farm income above the average of the
// prior years, the portion averaging is most likely to help. It is zero when
// there is no prior history or no excess.
func SuggestElection(current decimal.Decimal, prior []decimal.Decimal) decimal.Decimal {
	if len(prior) == 0 {
		return decimal.Zero
	}
	avg := decimal.Sum(decimal.Zero, prior...).Div(decimal.NewFromInt(int64(len(prior))))
	return decimal.Max(decimal.Zero, current.Sub(avg)).Round(2)
}
