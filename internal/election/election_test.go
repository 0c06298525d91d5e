package election

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

func asset(id, cost string, class model.MACRSClass, placed time.Time) model.Asset {
	return model.Asset{ID: id, EntityID: "farm", Description: id, Cost: dec(cost), PlacedInService: placed, Class: class}
}

func bigBudget() Budget { return Budget{Cap: dec("1220000")} }

func TestPriorityTieBreaks(t *testing.T) {
	tests := []struct {
		name  string
		first model.Asset
		later model.Asset
	}{
		{
			name:  "shorter recovery period first",
			first: asset("z", "90000", model.Class5Year, date(2024, 12, 1)),
			later: asset("a", "1000", model.Class7Year, date(2024, 1, 1)),
		},
		{
			name:  "earlier placed in service",
			first: asset("z", "90000", model.Class7Year, date(2024, 3, 1)),
			later: asset("a", "1000", model.Class7Year, date(2024, 6, 1)),
		},
		{
			name:  "lower cost",
			first: asset("z", "1000", model.Class7Year, date(2024, 3, 1)),
			later: asset("a", "90000", model.Class7Year, date(2024, 3, 1)),
		},
		{
			name:  "asset id",
			first: asset("a", "1000", model.Class7Year, date(2024, 3, 1)),
			later: asset("b", "1000", model.Class7Year, date(2024, 3, 1)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Negative(t, Priority(tt.first, tt.later))
			assert.Positive(t, Priority(tt.later, tt.first))
		})
	}
	a := asset("a", "1", model.Class3Year, date(2024, 1, 1))
	assert.Zero(t, Priority(a, a))
}

func TestScarceCapacityGoesToShorterRecoveryPeriod(t *testing.T) {
	assets := []model.Asset{
		asset("barn", "80000", model.Class20Year, date(2024, 1, 5)),
		asset("sprayer", "60000", model.Class7Year, date(2024, 6, 1)),
		asset("trailer", "50000", model.Class5Year, date(2024, 9, 1)),
	}
	plan := Optimize(Request{
		EntityID:    "farm",
		Year:        2024,
		Assets:      assets,
		IncomeLimit: dec("70000"),
		Objective:   MinimizeCurrentTax,
		Budget:      bigBudget(),
	})

	assert.Equal(t, []string{"trailer", "sprayer", "barn"}, plan.Order)
	assert.Equal(t, "50000.00", plan.Election("trailer").Section179.StringFixed(2))
	assert.Equal(t, "20000.00", plan.Election("sprayer").Section179.StringFixed(2))
	assert.True(t, plan.Election("barn").Section179.IsZero())
	assert.True(t, plan.Section179.Equal(dec("70000")))
	assert.True(t, plan.Capacity.Equal(dec("70000")))
	assert.False(t, plan.Infeasible)
	assert.Empty(t, plan.Warnings, "greedy fill is not a request")

	for _, id := range plan.Order {
		assert.False(t, plan.Election(id).BonusOptOut, "minimize takes bonus on the remainder")
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	assets := []model.Asset{
		asset("b", "10", model.Class7Year, date(2024, 1, 1)),
		asset("a", "10", model.Class3Year, date(2024, 1, 1)),
	}
	Optimize(Request{Assets: assets, IncomeLimit: dec("100"), Objective: MinimizeCurrentTax, Budget: bigBudget()})
	assert.Equal(t, "b", assets[0].ID)
}

func TestRequestsAreClampedWithWarnings(t *testing.T) {
	assets := []model.Asset{
		asset("combine", "485000", model.Class7Year, date(2024, 3, 1)),
		asset("truck", "40000", model.Class5Year, date(2024, 2, 1)),
	}
	plan := Optimize(Request{
		EntityID:    "farm",
		Year:        2024,
		Assets:      assets,
		IncomeLimit: dec("300000"),
		Objective:   MinimizeCurrentTax,
		Requested: map[string]decimal.Decimal{
			"truck":   dec("45000"),
			"combine": dec("485000"),
		},
		Budget: bigBudget(),
	})

	require.Len(t, plan.Warnings, 2)
	assert.Equal(t, LimitAssetCost, plan.Warnings[0].Limit)
	assert.Equal(t, "truck", plan.Warnings[0].Record)
	assert.True(t, plan.Warnings[0].Allowed.Equal(dec("40000")))

	assert.Equal(t, LimitIncome, plan.Warnings[1].Limit)
	assert.Equal(t, "combine", plan.Warnings[1].Record)
	assert.True(t, plan.Warnings[1].Allowed.Equal(dec("260000")))
	assert.True(t, plan.Section179.Equal(dec("300000")))
}

func TestAnnualCapBinds(t *testing.T) {
	assets := []model.Asset{asset("pivot", "500000", model.Class15Year, date(2024, 4, 1))}
	plan := Optimize(Request{
		Assets:      assets,
		IncomeLimit: dec("900000"),
		Objective:   MinimizeCurrentTax,
		Requested:   map[string]decimal.Decimal{"pivot": dec("500000")},
		Budget:      Budget{Cap: dec("1220000"), Consumed: dec("1000000")},
	})
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, LimitAnnualCap, plan.Warnings[0].Limit)
	assert.True(t, plan.Election("pivot").Section179.Equal(dec("220000")))

	exhausted := Optimize(Request{
		Assets:      assets,
		IncomeLimit: dec("900000"),
		Objective:   MinimizeCurrentTax,
		Budget:      Budget{Cap: dec("1220000"), Consumed: dec("1220000")},
	})
	assert.True(t, exhausted.Section179.IsZero())
	assert.False(t, exhausted.Infeasible)
	assert.Contains(t, exhausted.Reason, "exhausted")
}

func TestNonPositiveIncomeIsInfeasible(t *testing.T) {
	for _, limit := range []string{"0", "-25000"} {
		plan := Optimize(Request{
			EntityID:    "grain",
			Assets:      []model.Asset{asset("bin", "70000", model.Class10Year, date(2024, 5, 1))},
			IncomeLimit: dec(limit),
			Objective:   MinimizeCurrentTax,
			Requested:   map[string]decimal.Decimal{"bin": dec("70000")},
			Budget:      bigBudget(),
		})
		assert.True(t, plan.Infeasible, limit)
		assert.NotEmpty(t, plan.Reason)
		assert.True(t, plan.Section179.IsZero())
		assert.False(t, plan.Election("bin").BonusOptOut, "bonus and MACRS still apply")
		require.Len(t, plan.Warnings, 1)
		assert.Equal(t, LimitIncome, plan.Warnings[0].Limit)
	}
}

func TestSpreadDeductions(t *testing.T) {
	assets := []model.Asset{
		asset("tractor", "200000", model.Class7Year, date(2024, 2, 1)),
		asset("fence", "30000", model.Class15Year, date(2024, 2, 1)),
	}
	plan := Optimize(Request{
		Assets:      assets,
		IncomeLimit: dec("500000"),
		Objective:   SpreadDeductions,
		Requested:   map[string]decimal.Decimal{"fence": dec("10000")},
		Budget:      bigBudget(),
	})
	assert.True(t, plan.Election("tractor").Section179.IsZero())
	assert.True(t, plan.Election("fence").Section179.Equal(dec("10000")))
	assert.True(t, plan.Election("tractor").BonusOptOut)
	assert.True(t, plan.Election("fence").BonusOptOut)
	assert.Empty(t, plan.Warnings)
}

func TestBonusOptOutIsHonored(t *testing.T) {
	plan := Optimize(Request{
		Assets:      []model.Asset{asset("a", "1000", model.Class5Year, date(2024, 1, 1))},
		IncomeLimit: dec("10"),
		Objective:   MinimizeCurrentTax,
		BonusOptOut: map[string]bool{"a": true},
		Budget:      bigBudget(),
	})
	assert.True(t, plan.Election("a").BonusOptOut)
	assert.True(t, plan.Election("a").Section179.Equal(dec("10")))
}

func TestNewBudgetPhaseOut(t *testing.T) {
	limits := taxtable.Section179{Cap: dec("1220000"), PhaseOutThreshold: dec("3050000")}

	assert.True(t, NewBudget(limits, dec("3000000")).Cap.Equal(dec("1220000")))
	assert.True(t, NewBudget(limits, dec("3150000")).Cap.Equal(dec("1120000")))
	assert.True(t, NewBudget(limits, dec("5000000")).Cap.IsZero())

	b := NewBudget(limits, dec("100")).Consume(dec("1000000"))
	assert.True(t, b.Remaining().Equal(dec("220000")))
	assert.True(t, b.Consume(dec("300000")).Remaining().IsZero())
}

func TestParseObjective(t *testing.T) {
	o, err := ParseObjective("spread-deductions")
	require.NoError(t, err)
	assert.Equal(t, SpreadDeductions, o)

	o, err = ParseObjective(" Minimize_Current_Tax ")
	require.NoError(t, err)
	assert.Equal(t, MinimizeCurrentTax, o)

	_, err = ParseObjective("maximize_refund")
	assert.Error(t, err)
}

func TestOptimizeIsDeterministic(t *testing.T) {
	req := Request{
		Assets: []model.Asset{
			asset("c", "5000", model.Class7Year, date(2024, 1, 1)),
			asset("a", "5000", model.Class7Year, date(2024, 1, 1)),
			asset("b", "5000", model.Class7Year, date(2024, 1, 1)),
		},
		IncomeLimit: dec("7500"),
		Objective:   MinimizeCurrentTax,
		Budget:      bigBudget(),
	}
	first := Optimize(req)
	assert.Equal(t, first, Optimize(req))
	assert.Equal(t, []string{"a", "b", "c"}, first.Order)
	assert.True(t, first.Election("b").Section179.Equal(dec("2500")))
}
