// Package ledger aggregates an entity's income and expense transactions into
// per-year Schedule F totals.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
)

// PrepaidLimitRate caps deductible prepaid farm supplies at this share of the
// year's other deductible expenses for cash-basis filers.
var PrepaidLimitRate = decimal.RequireFromString("0.50")

// Summary is one entity's recognized income and expense for one tax year.
type Summary struct {
	EntityID string
	Year     int
	Basis    model.AccountingBasis

	Income   map[model.Category]decimal.Decimal
	Expenses map[model.Category]decimal.Decimal

	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal // includes deductible prepaid and carried-in amounts

	Prepaid           PrepaidCheck
	PrepaidCarriedIn  decimal.Decimal // excess from the prior year, deducted this year
	PrepaidCarriedOut decimal.Decimal // excess deferred to the next year

	Depreciation decimal.Decimal
	NetProfit    decimal.Decimal
}

// WithDepreciation returns a copy of s with computed depreciation applied.
func (s Summary) WithDepreciation(d decimal.Decimal) Summary {
	s.Depreciation = d
	s.NetProfit = s.TotalIncome.Sub(s.TotalExpenses).Sub(d)
	return s
}

// ProfitBeforeDepreciation is income less recognized expenses.
func (s Summary) ProfitBeforeDepreciation() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// Line is a Schedule F line with its recognized amount.
type Line struct {
	Line     string
	Category model.Category
	Type     model.TransactionType
	Amount   decimal.Decimal
}

// Lines returns the summary's non-zero category totals, income first, each
// group ordered by Schedule F line. Depreciation is reported on its own line
// when non-zero.
func (s Summary) Lines() []Line {
	var out []Line
	for _, group := range []struct {
		typ    model.TransactionType
		totals map[model.Category]decimal.Decimal
	}{{model.TypeIncome, s.Income}, {model.TypeExpense, s.Expenses}} {
		var lines []Line
		for c, amt := range group.totals {
			if amt.IsZero() {
				continue
			}
			lines = append(lines, Line{Line: c.ScheduleFLine(), Category: c, Type: group.typ, Amount: amt})
		}
		if group.typ == model.TypeExpense && s.Depreciation.IsPositive() {
			lines = append(lines, Line{Line: model.ScheduleFLineDepreciation, Category: "depreciation", Type: model.TypeExpense, Amount: s.Depreciation})
		}
		sort.Slice(lines, func(i, j int) bool {
			if lines[i].Line != lines[j].Line {
				return lineLess(lines[i].Line, lines[j].Line)
			}
			return lines[i].Category < lines[j].Category
		})
		out = append(out, lines...)
	}
	return out
}

// lineLess orders "2" before "10" and "21a" before "21b".
func lineLess(a, b string) bool {
	na, sa := splitLine(a)
	nb, sb := splitLine(b)
	if na != nb {
		return na < nb
	}
	return sa < sb
}

func splitLine(l string) (int, string) {
	n := 0
	i := 0
	for ; i < len(l) && l[i] >= '0' && l[i] <= '9'; i++ {
		n = n*10 + int(l[i]-'0')
	}
	return n, l[i:]
}

// PrepaidCheck reports a year's prepaid expenses against the 50% limit.
type PrepaidCheck struct {
	Prepaid       decimal.Decimal // prepaid expenses paid in the year
	OtherExpenses decimal.Decimal // non-prepaid deductible expenses paid in the year
	Limit         decimal.Decimal
	Deductible    decimal.Decimal
	Excess        decimal.Decimal
	Exceeded      bool
}

// CheckPrepaid applies the 50% rule to a year's totals.
func CheckPrepaid(prepaid, other decimal.Decimal) PrepaidCheck {
	limit := decimal.Max(decimal.Zero, other.Mul(PrepaidLimitRate).Round(2))
	deductible := decimal.Min(prepaid, limit)
	return PrepaidCheck{
		Prepaid:       prepaid,
		OtherExpenses: other,
		Limit:         limit,
		Deductible:    deductible,
		Excess:        prepaid.Sub(deductible),
		Exceeded:      prepaid.GreaterThan(limit),
	}
}

type yearBucket struct {
	income   map[model.Category]decimal.Decimal
	expenses map[model.Category]decimal.Decimal
	prepaid  []model.Transaction
}

func newBucket() *yearBucket {
	return &yearBucket{
		income:   make(map[model.Category]decimal.Decimal),
		expenses: make(map[model.Category]decimal.Decimal),
	}
}

// Aggregate groups an entity's transactions by tax year in ascending order.
//
// Accrual-basis entities recognize every transaction in its own year. Cash
// basis entities deduct prepaid expenses only up to half of the year's other
// expenses; the excess is deducted in the following year, which is emitted
// even when it has no transactions of its own. Prepaid transactions consume
// the limit in date order, then by ID.
func Aggregate(entity model.Entity, txns []model.Transaction) ([]Summary, error) {
	if err := model.ValidateEntity(entity); err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", entity.ID, err)
	}

	buckets := make(map[int]*yearBucket)
	for _, t := range txns {
		if err := model.ValidateTransaction(t); err != nil {
			return nil, fmt.Errorf("aggregating %s: %w", entity.ID, err)
		}
		if t.EntityID != entity.ID {
			return nil, &model.InputValidationError{
				Record:   t.ID,
				Field:    "EntityID",
				Message:  fmt.Sprintf("transaction belongs to %s, not %s", t.EntityID, entity.ID),
				EntityID: entity.ID,
			}
		}
		b, ok := buckets[t.Date.Year()]
		if !ok {
			b = newBucket()
			buckets[t.Date.Year()] = b
		}
		switch {
		case t.Type == model.TypeIncome:
			b.income[t.Category] = b.income[t.Category].Add(t.Amount)
		case t.Prepaid && entity.Basis == model.BasisCash:
			b.prepaid = append(b.prepaid, t)
		default:
			b.expenses[t.Category] = b.expenses[t.Category].Add(t.Amount)
		}
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	years := make([]int, 0, len(buckets))
	for y := range buckets {
		years = append(years, y)
	}
	sort.Ints(years)

	var out []Summary
	carry := map[model.Category]decimal.Decimal{}
	carryTotal := decimal.Zero
	last := years[len(years)-1]
	for year := years[0]; year <= last || carryTotal.IsPositive(); year++ {
		b, ok := buckets[year]
		if !ok && !carryTotal.IsPositive() {
			continue
		}
		if !ok {
			b = newBucket()
		}

		s := Summary{
			EntityID:         entity.ID,
			Year:             year,
			Basis:            entity.Basis,
			Income:           b.income,
			Expenses:         b.expenses,
			TotalIncome:      sumValues(b.income),
			PrepaidCarriedIn: carryTotal,
		}

		other := sumValues(b.expenses)
		check := CheckPrepaid(sumAmounts(b.prepaid), other)
		s.Prepaid = check

		for c, amt := range carry {
			s.Expenses[c] = s.Expenses[c].Add(amt)
		}
		carry = map[model.Category]decimal.Decimal{}
		carryTotal = decimal.Zero

		left := check.Deductible
		sort.SliceStable(b.prepaid, func(i, j int) bool {
			if !b.prepaid[i].Date.Equal(b.prepaid[j].Date) {
				return b.prepaid[i].Date.Before(b.prepaid[j].Date)
			}
			return b.prepaid[i].ID < b.prepaid[j].ID
		})
		for _, t := range b.prepaid {
			now := decimal.Min(t.Amount, left)
			left = left.Sub(now)
			if now.IsPositive() {
				s.Expenses[t.Category] = s.Expenses[t.Category].Add(now)
			}
			if deferred := t.Amount.Sub(now); deferred.IsPositive() {
				carry[t.Category] = carry[t.Category].Add(deferred)
				carryTotal = carryTotal.Add(deferred)
			}
		}
		s.PrepaidCarriedOut = carryTotal
		s.TotalExpenses = sumValues(s.Expenses)
		out = append(out, s.WithDepreciation(decimal.Zero))
	}
	return out, nil
}

// ForYear picks year out of summaries, or returns an empty summary for it.
func ForYear(entity model.Entity, summaries []Summary, year int) Summary {
	for _, s := range summaries {
		if s.Year == year {
			return s
		}
	}
	return Summary{
		EntityID: entity.ID,
		Year:     year,
		Basis:    entity.Basis,
		Income:   map[model.Category]decimal.Decimal{},
		Expenses: map[model.Category]decimal.Decimal{},
	}.WithDepreciation(decimal.Zero)
}

func sumValues(m map[model.Category]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

func sumAmounts(txns []model.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		total = total.Add(t.Amount)
	}
	return total
}
