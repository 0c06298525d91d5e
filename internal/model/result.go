package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Convention is the MACRS averaging convention applied in the first year.
type Convention string

const (
	ConventionHalfYear   Convention = "half-year"
	ConventionMidQuarter Convention = "mid-quarter"
)

// ScheduleEntry is one year of an asset's depreciation schedule.
type ScheduleEntry struct {
	AssetID        string
	Year           int
	YearIndex      int // 1 = placed-in-service year
	Convention     Convention
	Section179     decimal.Decimal
	Bonus          decimal.Decimal
	MACRS          decimal.Decimal
	BeginningBasis decimal.Decimal
	RemainingBasis decimal.Decimal
}

// Total is the year's deduction across all three methods.
func (e ScheduleEntry) Total() decimal.Decimal {
	return e.Section179.Add(e.Bonus).Add(e.MACRS)
}

// Disposition is the result of selling or retiring an asset.
type Disposition struct {
	AssetID    string
	DisposedOn time.Time
	Proceeds   decimal.Decimal
	// Depreciation is every deduction taken through the disposal year.
	Depreciation decimal.Decimal
	BookValue    decimal.Decimal
	// GainLoss is Proceeds less BookValue; negative for a loss.
	GainLoss decimal.Decimal
	// Ordinary is the part of a gain that recaptures depreciation taken.
	Ordinary decimal.Decimal
}

// FilingStatus is the taxpayer's federal filing status.
type FilingStatus string

const (
	Single                  FilingStatus = "single"
	MarriedFilingJointly    FilingStatus = "married_filing_jointly"
	MarriedFilingSeparately FilingStatus = "married_filing_separately"
	HeadOfHousehold         FilingStatus = "head_of_household"
)

// FilingStatuses lists every supported status.
var FilingStatuses = []FilingStatus{Single, MarriedFilingJointly, MarriedFilingSeparately, HeadOfHousehold}

// Valid reports whether s is a supported filing status.
func (s FilingStatus) Valid() bool {
	for _, f := range FilingStatuses {
		if s == f {
			return true
		}
	}
	return false
}

// BracketLine is the portion of income taxed at one marginal rate.
type BracketLine struct {
	Lower   decimal.Decimal
	Upper   decimal.Decimal // zero = unbounded
	Rate    decimal.Decimal
	Taxable decimal.Decimal
	Tax     decimal.Decimal
}

// SETax is the self-employment tax breakdown (Schedule SE).
type SETax struct {
	Base               decimal.Decimal // 92.35% of net profit
	SocialSecurityBase decimal.Decimal
	SocialSecurity     decimal.Decimal
	Medicare           decimal.Decimal
	AdditionalMedicare decimal.Decimal
	Total              decimal.Decimal
	Deductible         decimal.Decimal // half of Total
}

// TaxResult is the computed liability for an entity (or a whole taxpayer) for one year.
type TaxResult struct {
	EntityID     string // empty for a consolidated result
	Year         int
	FilingStatus FilingStatus
	State        string

	NetProfit decimal.Decimal
	SE        SETax

	FederalTaxableIncome decimal.Decimal
	FederalTax           decimal.Decimal
	FederalBrackets      []BracketLine

	StateTaxableIncome decimal.Decimal
	StateTax           decimal.Decimal
	StateBrackets      []BracketLine

	TotalLiability decimal.Decimal
	EffectiveRate  decimal.Decimal
}
