// Package consolidate combines per-entity results into one taxpayer-level
// summary for a year.
//
// Summing each entity's self-employment tax overstates Social Security tax
// once combined earnings pass the wage base, because the base applies to the
// individual, not to each business. Consolidate therefore recomputes the
// combined liability on combined net profit and reports the naive sum only
// for comparison.
package consolidate

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/ledger"
	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/tax"
)

// Profile is the individual taxpayer the entities flow through to.
type Profile struct {
	FilingStatus model.FilingStatus
	State        string
	Exemptions   int
	Dependents   int
}

// EntityResult is one entity's aggregates and computed tax for the year.
type EntityResult struct {
	Summary ledger.Summary
	Tax     model.TaxResult
}

// Summary is the consolidated view of a taxpayer's year.
type Summary struct {
	Year     int
	Entities []EntityResult

	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	Depreciation  decimal.Decimal
	NetProfit     decimal.Decimal

	// SumOfEntities adds up each entity's standalone TaxResult.
	SumOfEntities model.TaxResult
	// Combined is computed once on combined net profit.
	Combined model.TaxResult
	// WageBaseExcess is the Social Security tax SumOfEntities overstates.
	WageBaseExcess decimal.Decimal
}

// Consolidator recomputes combined liability with a tax.Calculator.
type Consolidator struct {
	calc *tax.Calculator
}

// New creates a Consolidator.
func New(calc *tax.Calculator) *Consolidator {
	return &Consolidator{calc: calc}
}

// Consolidate needs every entity's result for year; it is the point where a
// batch waits for all entities.
func (c *Consolidator) Consolidate(year int, profile Profile, results []EntityResult) (Summary, error) {
	if len(results) == 0 {
		return Summary{}, fmt.Errorf("consolidating %d: no entity results", year)
	}
	sorted := make([]EntityResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Summary.EntityID < sorted[j].Summary.EntityID })

	s := Summary{
		Year:           year,
		Entities:       sorted,
		TotalIncome:    decimal.Zero,
		TotalExpenses:  decimal.Zero,
		Depreciation:   decimal.Zero,
		NetProfit:      decimal.Zero,
		WageBaseExcess: decimal.Zero,
	}
	naive := model.TaxResult{Year: year, FilingStatus: profile.FilingStatus, State: profile.State}
	naive.NetProfit = decimal.Zero
	zeroSE(&naive.SE)
	naive.FederalTaxableIncome, naive.FederalTax = decimal.Zero, decimal.Zero
	naive.StateTaxableIncome, naive.StateTax = decimal.Zero, decimal.Zero
	naive.TotalLiability = decimal.Zero

	seen := make(map[string]bool, len(sorted))
	for _, r := range sorted {
		id := r.Summary.EntityID
		if seen[id] {
			return Summary{}, fmt.Errorf("consolidating %d: entity %s reported twice", year, id)
		}
		seen[id] = true
		if r.Summary.Year != year || r.Tax.Year != year {
			return Summary{}, fmt.Errorf("consolidating %d: entity %s result is for %d", year, id, r.Tax.Year)
		}
		if r.Tax.EntityID != "" && r.Tax.EntityID != id {
			return Summary{}, &model.InvariantViolation{
				Invariant: "entity result consistency",
				Record:    id,
				Detail:    fmt.Sprintf("tax result belongs to %s", r.Tax.EntityID),
			}
		}

		s.TotalIncome = s.TotalIncome.Add(r.Summary.TotalIncome)
		s.TotalExpenses = s.TotalExpenses.Add(r.Summary.TotalExpenses)
		s.Depreciation = s.Depreciation.Add(r.Summary.Depreciation)
		s.NetProfit = s.NetProfit.Add(r.Summary.NetProfit)

		addSE(&naive.SE, r.Tax.SE)
		naive.NetProfit = naive.NetProfit.Add(r.Tax.NetProfit)
		naive.FederalTaxableIncome = naive.FederalTaxableIncome.Add(r.Tax.FederalTaxableIncome)
		naive.FederalTax = naive.FederalTax.Add(r.Tax.FederalTax)
		naive.StateTaxableIncome = naive.StateTaxableIncome.Add(r.Tax.StateTaxableIncome)
		naive.StateTax = naive.StateTax.Add(r.Tax.StateTax)
		naive.TotalLiability = naive.TotalLiability.Add(r.Tax.TotalLiability)
	}
	naive.EffectiveRate = tax.EffectiveRate(naive.TotalLiability, naive.NetProfit)
	s.SumOfEntities = naive

	combined, err := c.calc.Calculate(tax.Input{
		Year:         year,
		NetProfit:    s.NetProfit,
		FilingStatus: profile.FilingStatus,
		State:        profile.State,
		Exemptions:   profile.Exemptions,
		Dependents:   profile.Dependents,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("consolidating %d: %w", year, err)
	}
	s.Combined = combined
	if excess := naive.SE.SocialSecurity.Sub(combined.SE.SocialSecurity); excess.IsPositive() {
		s.WageBaseExcess = excess
	}
	return s, nil
}

func zeroSE(se *model.SETax) {
	*se = model.SETax{
		Base:               decimal.Zero,
		SocialSecurityBase: decimal.Zero,
		SocialSecurity:     decimal.Zero,
		Medicare:           decimal.Zero,
		AdditionalMedicare: decimal.Zero,
		Total:              decimal.Zero,
		Deductible:         decimal.Zero,
	}
}

func addSE(dst *model.SETax, src model.SETax) {
	dst.Base = dst.Base.Add(src.Base)
	dst.SocialSecurityBase = dst.SocialSecurityBase.Add(src.SocialSecurityBase)
	dst.SocialSecurity = dst.SocialSecurity.Add(src.SocialSecurity)
	dst.Medicare = dst.Medicare.Add(src.Medicare)
	dst.AdditionalMedicare = dst.AdditionalMedicare.Add(src.AdditionalMedicare)
	dst.Total = dst.Total.Add(src.Total)
	dst.Deductible = dst.Deductible.Add(src.Deductible)
}
