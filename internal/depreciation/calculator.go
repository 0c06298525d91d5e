// Package depreciation computes per-asset Section 179, bonus and MACRS
// deductions and full-life schedules.
package depreciation

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

// midQuarterTrigger is the share of a year's depreciable basis placed in
// service in the fourth quarter above which the mid-quarter convention applies.
var midQuarterTrigger = decimal.RequireFromString("0.40")

// Calculator produces depreciation schedules. It holds no mutable state.
type Calculator struct {
	tables *taxtable.Registry
}

// NewCalculator creates a Calculator that reads bonus rates from tables.
func NewCalculator(tables *taxtable.Registry) *Calculator {
	return &Calculator{tables: tables}
}

// Schedule returns every year of the asset's recovery, starting with the
// placed-in-service year. The entries sum exactly to cost: amounts are rounded
// to cents and the last recovery year absorbs the rounding residue. A disposed
// asset's schedule stops at the disposal year, leaving its book value as the
// final remaining basis.
func (c *Calculator) Schedule(entity model.Entity, a model.Asset, el model.Election, conv model.Convention) ([]model.ScheduleEntry, error) {
	if err := model.ValidateAsset(a); err != nil {
		return nil, err
	}
	if !entity.FormationDate.IsZero() && a.PlacedInService.Before(entity.FormationDate) {
		return nil, model.DateOutOfRangeError(a.ID, fmt.Sprintf("placed in service %s before %s was formed on %s",
			a.PlacedInService.Format("2006-01-02"), entity.ID, entity.FormationDate.Format("2006-01-02")))
	}
	if el.Section179.IsNegative() || el.Section179.GreaterThan(a.Cost) {
		return nil, model.InvalidAssetError(a.ID, "Section179",
			fmt.Sprintf("election %s outside 0..%s", el.Section179.StringFixed(2), a.Cost.StringFixed(2)))
	}

	if a.DisposedInPlacedYear() {
		return []model.ScheduleEntry{{
			AssetID:        a.ID,
			Year:           a.Year(),
			YearIndex:      1,
			Convention:     conv,
			BeginningBasis: a.Cost,
			RemainingBasis: a.Cost,
		}}, nil
	}

	rates, err := Rates(a.Class, conv, a.Quarter())
	if err != nil {
		return nil, model.InvalidAssetError(a.ID, "Class", err.Error())
	}
	bonusRate, err := c.bonusRate(a, el)
	if err != nil {
		return nil, err
	}

	section179 := el.Section179.Round(2)
	afterExpensing := a.Cost.Sub(section179)
	bonus := afterExpensing.Mul(bonusRate).Round(2)
	macrsBasis := afterExpensing.Sub(bonus)

	entries := make([]model.ScheduleEntry, len(rates))
	remaining := a.Cost
	macrsLeft := macrsBasis
	for i, rate := range rates {
		e := model.ScheduleEntry{
			AssetID:        a.ID,
			Year:           a.Year() + i,
			YearIndex:      i + 1,
			Convention:     conv,
			BeginningBasis: remaining,
		}
		if i == 0 {
			e.Section179 = section179
			e.Bonus = bonus
		}
		if i == len(rates)-1 {
			e.MACRS = macrsLeft
		} else {
			e.MACRS = decimal.Min(macrsBasis.Mul(rate).Round(2), macrsLeft)
		}
		macrsLeft = macrsLeft.Sub(e.MACRS)
		remaining = remaining.Sub(e.Total())
		e.RemainingBasis = remaining
		if remaining.IsNegative() {
			return nil, &model.InvariantViolation{
				Invariant: "remaining basis non-negative",
				Record:    a.ID,
				Detail:    fmt.Sprintf("year %d remaining basis %s", e.Year, remaining.StringFixed(2)),
			}
		}
		entries[i] = e
	}

	if err := checkSchedule(a, entries); err != nil {
		return nil, err
	}
	return truncate(entries, a, conv), nil
}

// bonusRate returns the rate applied to basis left after Section 179. The
// placed-in-service year's table is consulted only when the election neither
// opts out nor records its own rate.
func (c *Calculator) bonusRate(a model.Asset, el model.Election) (decimal.Decimal, error) {
	switch {
	case el.BonusOptOut:
		return decimal.Zero, nil
	case el.BonusRate != nil:
		return *el.BonusRate, nil
	}
	year, err := c.tables.Lookup(a.Year())
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset %s: %w", a.ID, err)
	}
	return year.BonusRate, nil
}

// truncate ends a full-life schedule at the disposal year. The disposal year
// takes a partial MACRS amount under the convention, except when it is
// already the final recovery year.
func truncate(entries []model.ScheduleEntry, a model.Asset, conv model.Convention) []model.ScheduleEntry {
	if !a.IsDisposed() {
		return entries
	}
	idx := a.DisposedOn.Year() - a.Year()
	if idx >= len(entries)-1 {
		return entries
	}
	out := slices.Clone(entries[:idx+1])
	last := &out[idx]
	last.MACRS = last.MACRS.Mul(disposalFraction(conv, a.DisposedOn)).Round(2)
	last.RemainingBasis = last.BeginningBasis.Sub(last.Total())
	return out
}

// disposalFraction is the share of a full year's MACRS allowed in the year of
// disposal: half under the half-year convention, and under mid-quarter the
// months up to the middle of the disposal quarter.
func disposalFraction(conv model.Convention, disposed time.Time) decimal.Decimal {
	if conv != model.ConventionMidQuarter {
		return decimal.RequireFromString("0.5")
	}
	q := (int(disposed.Month())-1)/3 + 1
	return decimal.NewFromInt(int64(6*q - 3)).Div(decimal.NewFromInt(24))
}

// Dispose reports the book value and gain or loss of a disposed asset from
// the schedule Schedule returned for it.
func Dispose(a model.Asset, entries []model.ScheduleEntry) (model.Disposition, error) {
	if !a.IsDisposed() {
		return model.Disposition{}, model.InvalidAssetError(a.ID, "DisposedOn", "asset has not been disposed")
	}
	taken := decimal.Zero
	for _, e := range entries {
		if e.Year <= a.DisposedOn.Year() {
			taken = taken.Add(e.Total())
		}
	}
	book := a.Cost.Sub(taken)
	gain := a.Proceeds.Sub(book)
	ordinary := decimal.Zero
	if gain.IsPositive() {
		ordinary = decimal.Min(gain, taken)
	}
	return model.Disposition{
		AssetID:      a.ID,
		DisposedOn:   a.DisposedOn,
		Proceeds:     a.Proceeds,
		Depreciation: taken,
		BookValue:    book,
		GainLoss:     gain,
		Ordinary:     ordinary,
	}, nil
}

// ForYear returns the asset's entry for a single tax year. Years before the
// placed-in-service year or after the recovery period yield a zero entry.
func (c *Calculator) ForYear(entity model.Entity, a model.Asset, el model.Election, conv model.Convention, taxYear int) (model.ScheduleEntry, error) {
	entries, err := c.Schedule(entity, a, el, conv)
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	return EntryFor(entries, a, conv, taxYear), nil
}

// EntryFor picks taxYear out of a computed schedule.
func EntryFor(entries []model.ScheduleEntry, a model.Asset, conv model.Convention, taxYear int) model.ScheduleEntry {
	zero := model.ScheduleEntry{AssetID: a.ID, Year: taxYear, Convention: conv}
	if taxYear < a.Year() {
		zero.BeginningBasis = a.Cost
		zero.RemainingBasis = a.Cost
		return zero
	}
	idx := taxYear - a.Year()
	if idx >= len(entries) {
		zero.YearIndex = idx + 1
		return zero
	}
	return entries[idx]
}

func checkSchedule(a model.Asset, entries []model.ScheduleEntry) error {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Total())
	}
	if !total.Equal(a.Cost) {
		return &model.InvariantViolation{
			Invariant: "schedule sums to cost",
			Record:    a.ID,
			Detail:    fmt.Sprintf("schedule total %s, cost %s", total.StringFixed(2), a.Cost.StringFixed(2)),
		}
	}
	if last := entries[len(entries)-1]; !last.RemainingBasis.IsZero() {
		return &model.InvariantViolation{
			Invariant: "basis fully recovered",
			Record:    a.ID,
			Detail:    fmt.Sprintf("remaining basis %s after final year", last.RemainingBasis.StringFixed(2)),
		}
	}
	return nil
}

// DetermineConvention picks the convention for one entity's additions in one
// year. The test runs on depreciable basis, that is cost less the Section 179
// amount elected for each asset.
func DetermineConvention(assets []model.Asset, elections map[string]model.Election) model.Convention {
	total := decimal.Zero
	fourth := decimal.Zero
	for _, a := range assets {
		if a.DisposedInPlacedYear() {
			continue
		}
		basis := a.Cost.Sub(elections[a.ID].Section179)
		if !basis.IsPositive() {
			continue
		}
		total = total.Add(basis)
		if a.Quarter() == 4 {
			fourth = fourth.Add(basis)
		}
	}
	if total.IsZero() {
		return model.ConventionHalfYear
	}
	if fourth.Div(total).GreaterThan(midQuarterTrigger) {
		return model.ConventionMidQuarter
	}
	return model.ConventionHalfYear
}
