// Package election allocates Section 179 expensing and bonus depreciation
// elections across the assets an entity placed in service in a year.
//
// Optimize is a pure function: it never mutates the assets it is given and
// always walks candidates in Priority order, so identical requests produce
// identical plans.
package election

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

// Objective selects how the optimizer trades current-year deductions against
// future ones.
type Objective string

const (
	// MinimizeCurrentTax expenses as much as capacity allows and takes bonus
	// on whatever remains.
	MinimizeCurrentTax Objective = "minimize_current_tax"
	// SpreadDeductions expenses only what was explicitly requested and elects
	// out of bonus so the rest is recovered through MACRS.
	SpreadDeductions Objective = "spread_deductions"
)

// Valid reports whether o is a known objective.
func (o Objective) Valid() bool {
	return o == MinimizeCurrentTax || o == SpreadDeductions
}

// ParseObjective accepts an objective name, with dashes or underscores.
func ParseObjective(s string) (Objective, error) {
	o := Objective(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !o.Valid() {
		return "", fmt.Errorf("unknown optimization objective %q", s)
	}
	return o, nil
}

// Limit names used in PolicyLimitExceeded warnings.
const (
	LimitAssetCost = "section 179 asset cost"
	LimitAnnualCap = "section 179 annual cap"
	LimitIncome    = "section 179 taxable income limit"
)

// Budget is the taxpayer-wide Section 179 allowance for one year. It is
// shared by every entity the taxpayer files for.
type Budget struct {
	Cap      decimal.Decimal // statutory cap after the investment phase-out
	Consumed decimal.Decimal // already allocated to other entities
}

// NewBudget applies the investment phase-out: the cap is reduced dollar for
// dollar by qualifying cost placed in service above the threshold.
func NewBudget(limits taxtable.Section179, placed decimal.Decimal) Budget {
	over := decimal.Max(decimal.Zero, placed.Sub(limits.PhaseOutThreshold))
	return Budget{Cap: decimal.Max(decimal.Zero, limits.Cap.Sub(over))}
}

// Remaining returns what is left of the allowance.
func (b Budget) Remaining() decimal.Decimal {
	return decimal.Max(decimal.Zero, b.Cap.Sub(b.Consumed))
}

// Consume returns a copy of b with amount allocated.
func (b Budget) Consume(amount decimal.Decimal) Budget {
	b.Consumed = b.Consumed.Add(amount)
	return b
}

// Request is everything the optimizer needs for one entity-year.
type Request struct {
	EntityID string
	Year     int
	// Assets placed in service in Year. Order does not matter.
	Assets []model.Asset
	// IncomeLimit is the entity's taxable income before Section 179.
	IncomeLimit decimal.Decimal
	Objective   Objective
	// Requested holds explicit per-asset Section 179 amounts.
	Requested map[string]decimal.Decimal
	// BonusOptOut lists assets the taxpayer elected out of bonus for.
	BonusOptOut map[string]bool
	Budget      Budget
}

// Plan is the optimizer's output for one entity-year.
type Plan struct {
	EntityID  string
	Year      int
	Objective Objective
	Elections map[string]model.Election
	// Order is the asset IDs in the priority order capacity was offered.
	Order      []string
	Capacity   decimal.Decimal
	Section179 decimal.Decimal
	Infeasible bool
	Reason     string
	Warnings   []model.PolicyLimitExceeded
}

// Election returns the plan's election for an asset, or the zero election.
func (p Plan) Election(assetID string) model.Election {
	return p.Elections[assetID]
}

// Priority orders candidates for scarce Section 179 capacity: shorter
// recovery period first, then earlier placed-in-service date, then lower
// cost, then asset ID. It returns a negative number when a comes first.
func Priority(a, b model.Asset) int {
	if a.Class.RecoveryPeriod() != b.Class.RecoveryPeriod() {
		return a.Class.RecoveryPeriod() - b.Class.RecoveryPeriod()
	}
	if c := a.PlacedInService.Compare(b.PlacedInService); c != 0 {
		return c
	}
	if c := a.Cost.Cmp(b.Cost); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Optimize allocates Section 179 for req. Capacity is the smaller of the
// remaining budget and the income limit; no asset receives more than its
// cost. Requests that exceed a limit are clamped and reported as warnings.
func Optimize(req Request) Plan {
	candidates := slices.Clone(req.Assets)
	slices.SortStableFunc(candidates, Priority)

	plan := Plan{
		EntityID:   req.EntityID,
		Year:       req.Year,
		Objective:  req.Objective,
		Elections:  make(map[string]model.Election, len(candidates)),
		Order:      make([]string, 0, len(candidates)),
		Section179: decimal.Zero,
	}
	spread := req.Objective == SpreadDeductions

	for _, a := range candidates {
		plan.Order = append(plan.Order, a.ID)
		plan.Elections[a.ID] = model.Election{BonusOptOut: spread || req.BonusOptOut[a.ID]}
	}

	if !req.IncomeLimit.IsPositive() {
		plan.Capacity = decimal.Zero
		plan.Infeasible = true
		plan.Reason = fmt.Sprintf("taxable income before Section 179 is %s; expensing cannot create a loss", req.IncomeLimit.StringFixed(2))
		for _, a := range candidates {
			if want, ok := req.Requested[a.ID]; ok && want.IsPositive() {
				plan.Warnings = append(plan.Warnings, model.PolicyLimitExceeded{
					Limit: LimitIncome, Record: a.ID, Requested: want, Allowed: decimal.Zero,
				})
			}
		}
		return plan
	}

	budgetLeft := req.Budget.Remaining()
	incomeLeft := req.IncomeLimit
	plan.Capacity = decimal.Min(budgetLeft, incomeLeft)

	for _, a := range candidates {
		want, requested := req.Requested[a.ID]
		if !requested {
			if spread {
				continue
			}
			want = a.Cost
		}
		if !want.IsPositive() {
			continue
		}

		alloc := want
		limit := ""
		if alloc.GreaterThan(a.Cost) {
			alloc, limit = a.Cost, LimitAssetCost
		}
		if alloc.GreaterThan(budgetLeft) {
			alloc, limit = budgetLeft, LimitAnnualCap
		}
		if alloc.GreaterThan(incomeLeft) {
			alloc, limit = incomeLeft, LimitIncome
		}
		alloc = alloc.Round(2)

		if requested && limit != "" {
			plan.Warnings = append(plan.Warnings, model.PolicyLimitExceeded{
				Limit: limit, Record: a.ID, Requested: want, Allowed: alloc,
			})
		}
		if !alloc.IsPositive() {
			continue
		}

		el := plan.Elections[a.ID]
		el.Section179 = alloc
		plan.Elections[a.ID] = el
		budgetLeft = budgetLeft.Sub(alloc)
		incomeLeft = incomeLeft.Sub(alloc)
		plan.Section179 = plan.Section179.Add(alloc)
	}

	if plan.Section179.IsZero() && budgetLeft.IsZero() && len(candidates) > 0 {
		plan.Reason = "annual Section 179 cap exhausted by other entities"
	}
	return plan
}

// Placed sums the cost of assets for the investment phase-out test.
func Placed(assets []model.Asset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.Cost)
	}
	return total
}
