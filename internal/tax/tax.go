// Package tax computes self-employment, federal and state income tax for a
// year's net farm profit.
package tax

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

var two = decimal.NewFromInt(2)

// Input is everything Calculate needs besides the year's tables.
type Input struct {
	EntityID     string
	Year         int
	NetProfit    decimal.Decimal
	FilingStatus model.FilingStatus
	State        string // empty = model.DefaultState
	Exemptions   int    // state personal exemptions
	Dependents   int
}

// Calculator computes TaxResults against injected tables.
type Calculator struct {
	tables *taxtable.Registry
}

// NewCalculator creates a Calculator.
func NewCalculator(tables *taxtable.Registry) *Calculator {
	return &Calculator{tables: tables}
}

// Calculate returns the full liability breakdown for in. It fails with an
// UnsupportedTaxYearError when the year or the state has no table.
func (c *Calculator) Calculate(in Input) (model.TaxResult, error) {
	if !in.FilingStatus.Valid() {
		return model.TaxResult{}, &model.InputValidationError{
			Record:   in.EntityID,
			Field:    "FilingStatus",
			Message:  fmt.Sprintf("unknown filing status %q", in.FilingStatus),
			EntityID: in.EntityID,
		}
	}
	if in.Exemptions < 0 || in.Dependents < 0 {
		return model.TaxResult{}, &model.InputValidationError{
			Record:   in.EntityID,
			Field:    "Exemptions",
			Message:  "exemption and dependent counts must not be negative",
			EntityID: in.EntityID,
		}
	}
	state := in.State
	if state == "" {
		state = model.DefaultState
	}

	year, err := c.tables.Lookup(in.Year)
	if err != nil {
		return model.TaxResult{}, err
	}
	stateTable, err := year.State(state)
	if err != nil {
		return model.TaxResult{}, err
	}

	res := model.TaxResult{
		EntityID:     in.EntityID,
		Year:         in.Year,
		FilingStatus: in.FilingStatus,
		State:        state,
		NetProfit:    in.NetProfit,
	}
	res.SE = SelfEmployment(year.SelfEmployment, in.NetProfit, in.FilingStatus)

	brackets, err := year.FederalBrackets(in.FilingStatus)
	if err != nil {
		return model.TaxResult{}, err
	}
	std, err := year.StandardDeduction(in.FilingStatus)
	if err != nil {
		return model.TaxResult{}, err
	}
	agi := in.NetProfit.Sub(res.SE.Deductible)
	res.FederalTaxableIncome = nonNegative(agi.Sub(std))
	res.FederalTax, res.FederalBrackets = BracketTax(brackets, res.FederalTaxableIncome)

	if stateBrackets := stateTable.Brackets[in.FilingStatus]; len(stateBrackets) > 0 {
		deductions := stateTable.StandardDeduction[in.FilingStatus].
			Add(stateTable.PersonalExemption.Mul(decimal.NewFromInt(int64(in.Exemptions)))).
			Add(stateTable.DependentExemption.Mul(decimal.NewFromInt(int64(in.Dependents))))
		res.StateTaxableIncome = nonNegative(agi.Sub(deductions))
		res.StateTax, res.StateBrackets = BracketTax(stateBrackets, res.StateTaxableIncome)
	} else {
		res.StateTaxableIncome = decimal.Zero
		res.StateTax = decimal.Zero
	}

	res.TotalLiability = res.SE.Total.Add(res.FederalTax).Add(res.StateTax)
	res.EffectiveRate = EffectiveRate(res.TotalLiability, in.NetProfit)
	return res, nil
}

// SelfEmployment computes Schedule SE for a year. Net earnings under the
// statutory minimum owe no SE tax.
func SelfEmployment(t taxtable.SelfEmployment, netProfit decimal.Decimal, status model.FilingStatus) model.SETax {
	se := model.SETax{
		Base:               nonNegative(netProfit.Mul(t.EarningsFactor).Round(2)),
		SocialSecurityBase: decimal.Zero,
		SocialSecurity:     decimal.Zero,
		Medicare:           decimal.Zero,
		AdditionalMedicare: decimal.Zero,
		Total:              decimal.Zero,
		Deductible:         decimal.Zero,
	}
	if se.Base.IsZero() || se.Base.LessThan(t.MinimumEarnings) {
		return se
	}
	se.SocialSecurityBase = decimal.Min(se.Base, t.WageBase)
	se.SocialSecurity = se.SocialSecurityBase.Mul(t.SocialSecurityRate).Round(2)
	se.Medicare = se.Base.Mul(t.MedicareRate).Round(2)
	if over := se.Base.Sub(t.AdditionalMedicareThreshold[status]); over.IsPositive() {
		se.AdditionalMedicare = over.Mul(t.AdditionalMedicareRate).Round(2)
	}
	se.Total = se.SocialSecurity.Add(se.Medicare).Add(se.AdditionalMedicare)
	se.Deductible = se.Total.Div(two).Round(2)
	return se
}

// BracketTax accumulates tax bracket by bracket: each slice of income is
// taxed at its own marginal rate. Lines are returned for every bracket the
// income reaches.
func BracketTax(brackets taxtable.Brackets, taxable decimal.Decimal) (decimal.Decimal, []model.BracketLine) {
	total := decimal.Zero
	var lines []model.BracketLine
	for i, b := range brackets {
		if !taxable.GreaterThan(b.Over) {
			break
		}
		line := model.BracketLine{Lower: b.Over, Rate: b.Rate}
		top := taxable
		if i+1 < len(brackets) {
			line.Upper = brackets[i+1].Over
			top = decimal.Min(taxable, line.Upper)
		}
		line.Taxable = top.Sub(b.Over)
		line.Tax = line.Taxable.Mul(b.Rate).Round(2)
		total = total.Add(line.Tax)
		lines = append(lines, line)
	}
	return total, lines
}

// EffectiveRate is liability over net profit, rounded to four places. It is
// zero when there is no profit.
func EffectiveRate(liability, netProfit decimal.Decimal) decimal.Decimal {
	if !netProfit.IsPositive() {
		return decimal.Zero
	}
	return liability.Div(netProfit).Round(4)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
