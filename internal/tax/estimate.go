package tax

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
)

var (
	safeHarborCurrent   = decimal.RequireFromString("0.90")
	safeHarborPrior     = decimal.NewFromInt(1)
	safeHarborPriorHigh = decimal.RequireFromString("1.10")
	highIncomeAGI       = decimal.NewFromInt(150000)
	highIncomeAGIMFS    = decimal.NewFromInt(75000)
	four                = decimal.NewFromInt(4)
)

// PriorYear is last year's filed return, for the prior-year safe harbor.
type PriorYear struct {
	Tax decimal.Decimal
	AGI decimal.Decimal
}

// EstimateInput describes a year's projected liability and payments so far.
type EstimateInput struct {
	Year         int
	FilingStatus model.FilingStatus
	AnnualTax    decimal.Decimal // projected current-year liability
	Prior        *PriorYear      // nil when no prior return was filed
	Paid         []decimal.Decimal
}

// Installment is one quarterly estimated payment.
type Installment struct {
	Quarter int
	Due     time.Time
	Amount  decimal.Decimal
	Paid    decimal.Decimal
}

// Estimate is a quarterly payment schedule.
type Estimate struct {
	Year            int
	Required        decimal.Decimal
	Basis           string
	Installments    []Installment
	TotalPaid       decimal.Decimal
	Remaining       decimal.Decimal
	RecommendedNext decimal.Decimal
}

// EstimatePayments spreads the smaller safe-harbor amount over four
// installments: 90% of this year's tax, or 100% of last year's (110% when
// last year's AGI exceeded $150,000, $75,000 married filing separately).
func EstimatePayments(in EstimateInput) (Estimate, error) {
	if in.AnnualTax.IsNegative() {
		return Estimate{}, &model.InputValidationError{Field: "AnnualTax", Message: "projected tax must not be negative"}
	}
	if len(in.Paid) > 4 {
		return Estimate{}, &model.InputValidationError{Field: "Paid", Message: fmt.Sprintf("%d payments recorded, at most 4", len(in.Paid))}
	}

	est := Estimate{
		Year:     in.Year,
		Required: in.AnnualTax.Mul(safeHarborCurrent).Round(2),
		Basis:    "90% of current-year tax",
	}
	if in.Prior != nil {
		rate, basis := safeHarborPrior, "100% of prior-year tax"
		threshold := highIncomeAGI
		if in.FilingStatus == model.MarriedFilingSeparately {
			threshold = highIncomeAGIMFS
		}
		if in.Prior.AGI.GreaterThan(threshold) {
			rate, basis = safeHarborPriorHigh, "110% of prior-year tax"
		}
		if prior := in.Prior.Tax.Mul(rate).Round(2); prior.LessThan(est.Required) {
			est.Required, est.Basis = prior, basis
		}
	}

	quarter := est.Required.Div(four).Round(2)
	est.TotalPaid = decimal.Zero
	unpaid := 0
	for i, due := range dueDates(in.Year) {
		inst := Installment{Quarter: i + 1, Due: due, Amount: quarter, Paid: decimal.Zero}
		if i == 3 {
			inst.Amount = est.Required.Sub(quarter.Mul(decimal.NewFromInt(3)))
		}
		if i < len(in.Paid) {
			inst.Paid = in.Paid[i]
		}
		if !inst.Paid.IsPositive() {
			unpaid++
		}
		est.TotalPaid = est.TotalPaid.Add(inst.Paid)
		est.Installments = append(est.Installments, inst)
	}
	est.Remaining = nonNegative(est.Required.Sub(est.TotalPaid))
	est.RecommendedNext = decimal.Zero
	if unpaid > 0 {
		est.RecommendedNext = est.Remaining.Div(decimal.NewFromInt(int64(unpaid))).Round(2)
	}
	return est, nil
}

func dueDates(year int) []time.Time {
	return []time.Time{
		time.Date(year, time.April, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.June, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.September, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year+1, time.January, 15, 0, 0, 0, 0, time.UTC),
	}
}
