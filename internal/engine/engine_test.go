package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cleared-dev/farmtax/internal/consolidate"
	"github.com/cleared-dev/farmtax/internal/election"
	"github.com/cleared-dev/farmtax/internal/metrics"
	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC) }

var profile = consolidate.Profile{FilingStatus: model.MarriedFilingJointly, State: "LA", Exemptions: 2}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg, err := taxtable.Builtin()
	require.NoError(t, err)
	return New(reg, opts...)
}

func entity(id string) model.Entity {
	return model.Entity{ID: id, Name: id, Type: model.EntityTypeFarm, Basis: model.BasisCash}
}

func asset(id, entityID, cost string, class model.MACRSClass, placed time.Time) model.Asset {
	return model.Asset{ID: id, EntityID: entityID, Description: id, Cost: dec(cost), PlacedInService: placed, Class: class}
}

func income(id, entityID string, d time.Time, amt string) model.Transaction {
	return model.Transaction{ID: id, EntityID: entityID, Date: d, Type: model.TypeIncome, Category: model.CategoryGrainSales, Amount: dec(amt)}
}

func expense(id, entityID string, d time.Time, amt string) model.Transaction {
	return model.Transaction{ID: id, EntityID: entityID, Date: d, Type: model.TypeExpense, Category: model.CategoryLaborHired, Amount: dec(amt)}
}

func farmSnapshot() Snapshot {
	equipment := entity("equipment")
	equipment.Type = model.EntityTypeEquipmentHolding
	grain := entity("grain")
	grain.Type = model.EntityTypeGrainHolding
	grain.State = "TX"
	return Snapshot{
		Entities: []model.Entity{grain, entity("farm"), equipment},
		Assets: []model.Asset{
			asset("combine", "farm", "485000", model.Class7Year, date(2024, 3, 15)),
			asset("bin", "grain", "50000", model.Class10Year, date(2024, 6, 1)),
		},
		Transactions: []model.Transaction{
			income("t1", "farm", date(2024, 9, 1), "1000000"),
			expense("t2", "farm", date(2024, 2, 1), "200000"),
			income("t3", "grain", date(2024, 10, 1), "40000"),
			expense("t4", "grain", date(2024, 10, 1), "5000"),
			income("t5", "equipment", date(2024, 4, 1), "12000"),
		},
	}
}

func TestRunFullSection179(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), farmSnapshot(), Options{Year: 2024, Profile: profile})
	require.NoError(t, err)

	require.Len(t, report.Entities, 3)
	assert.Equal(t, "equipment", report.Entities[0].Entity.ID)
	assert.Equal(t, "farm", report.Entities[1].Entity.ID)
	assert.Equal(t, "grain", report.Entities[2].Entity.ID)
	assert.Empty(t, report.Failed())

	farm, ok := report.Entity("farm")
	require.True(t, ok)
	assert.Equal(t, "485000.00", farm.Plan.Section179.StringFixed(2))
	assert.Equal(t, "485000.00", farm.DepreciationTotal().StringFixed(2))
	assert.Equal(t, "315000.00", farm.Summary.NetProfit.StringFixed(2))
	assert.True(t, farm.Tax.NetProfit.Equal(farm.Summary.NetProfit))

	schedule := farm.Schedules["combine"]
	require.Len(t, schedule, 8)
	for _, entry := range schedule[1:] {
		assert.True(t, entry.Total().IsZero())
	}

	// The grain entity's income limit only covers part of the bin.
	grain, _ := report.Entity("grain")
	assert.False(t, grain.Plan.Infeasible)
	assert.True(t, grain.Plan.Section179.IsPositive())
	assert.True(t, grain.Plan.Section179.LessThan(dec("50000")))
	assert.False(t, grain.Summary.NetProfit.IsNegative(), "Section 179 cannot create a loss")
	assert.True(t, grain.Tax.StateTax.IsZero(), "TX has no income tax")

	assert.True(t, report.Budget.Consumed.Equal(farm.Plan.Section179.Add(grain.Plan.Section179)))

	require.NotNil(t, report.Consolidated)
	total := farm.Summary.NetProfit.Add(grain.Summary.NetProfit).Add(dec("12000"))
	assert.True(t, report.Consolidated.NetProfit.Equal(total))
}

func TestRunSharesSection179BudgetAcrossEntities(t *testing.T) {
	e := newEngine(t)
	snap := Snapshot{
		Entities: []model.Entity{entity("b-farm"), entity("a-farm")},
		Assets: []model.Asset{
			asset("a1", "a-farm", "1000000", model.Class5Year, date(2024, 2, 1)),
			asset("b1", "b-farm", "1000000", model.Class5Year, date(2024, 2, 1)),
		},
		Transactions: []model.Transaction{
			income("ia", "a-farm", date(2024, 9, 1), "5000000"),
			income("ib", "b-farm", date(2024, 9, 1), "5000000"),
		},
	}
	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)

	a, _ := report.Entity("a-farm")
	b, _ := report.Entity("b-farm")
	assert.Equal(t, "1000000.00", a.Plan.Section179.StringFixed(2), "entities draw on the budget in ID order")
	assert.Equal(t, "220000.00", b.Plan.Section179.StringFixed(2))
	assert.True(t, report.Budget.Consumed.Equal(report.Budget.Cap))
	assert.True(t, report.Budget.Cap.Equal(dec("1220000")))

	// Bonus applies to what Section 179 did not cover.
	entry := b.Depreciation[0]
	assert.Equal(t, "468000.00", entry.Bonus.StringFixed(2))
}

func TestRunRequestedElectionIsClampedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	e := newEngine(t, WithLogger(zap.New(core)), WithMetrics(m))

	snap := Snapshot{
		Entities:     []model.Entity{entity("farm")},
		Assets:       []model.Asset{asset("tractor", "farm", "90000", model.Class7Year, date(2024, 5, 1))},
		Transactions: []model.Transaction{income("i", "farm", date(2024, 5, 1), "500000")},
	}
	report, err := e.Run(context.Background(), snap, Options{
		Year:      2024,
		Profile:   profile,
		Requested: map[string]decimal.Decimal{"tractor": dec("100000")},
	})
	require.NoError(t, err)

	require.Len(t, report.Warnings, 1)
	assert.Equal(t, election.LimitAssetCost, report.Warnings[0].Limit)
	assert.Equal(t, 1, logs.FilterMessage("election clamped").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ElectionsClamped.WithLabelValues(election.LimitAssetCost)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 90000.0, testutil.ToFloat64(m.Section179.WithLabelValues("farm")))
}

func TestRunSpreadDeductions(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), farmSnapshot(), Options{
		Year:      2024,
		Profile:   profile,
		Objective: election.SpreadDeductions,
	})
	require.NoError(t, err)
	farm, _ := report.Entity("farm")
	assert.True(t, farm.Plan.Section179.IsZero())
	require.Len(t, farm.Depreciation, 1)
	assert.True(t, farm.Depreciation[0].Bonus.IsZero())
	assert.Equal(t, "69306.50", farm.Depreciation[0].MACRS.StringFixed(2), "14.29%% of 485,000")
}

func TestRunPriorYearAssetsUseRecordedElection(t *testing.T) {
	e := newEngine(t)
	snap := Snapshot{
		Entities: []model.Entity{entity("farm")},
		Assets: []model.Asset{
			asset("planter", "farm", "100000", model.Class7Year, date(2023, 4, 1)),
			func() model.Asset {
				a := asset("disk", "farm", "20000", model.Class7Year, date(2022, 4, 1))
				a.Recorded = &model.Election{Section179: dec("20000")}
				return a
			}(),
			asset("old-truck", "farm", "30000", model.Class3Year, date(2021, 1, 10)),
			asset("next-year", "farm", "10000", model.Class5Year, date(2025, 1, 10)),
		},
		Transactions: []model.Transaction{income("i", "farm", date(2024, 5, 1), "100000")},
	}
	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)

	farm, _ := report.Entity("farm")
	require.True(t, farm.OK(), "%v", farm.Err)
	byAsset := map[string]model.ScheduleEntry{}
	for _, entry := range farm.Depreciation {
		byAsset[entry.AssetID] = entry
	}
	assert.Equal(t, "4898.00", byAsset["planter"].MACRS.StringFixed(2), "24.49%% of the 20,000 left after 80%% bonus")
	assert.True(t, byAsset["disk"].Total().IsZero(), "fully expensed in 2022")
	assert.True(t, byAsset["old-truck"].Total().IsZero(), "2021 bonus took the whole basis")
	assert.NotContains(t, byAsset, "next-year")
	assert.True(t, farm.Plan.Section179.IsZero())
}

func TestRunOldAssetsWithoutTables(t *testing.T) {
	e := newEngine(t)
	barn := asset("barn", "farm", "100000", model.Class20Year, date(2015, 5, 1))
	barn.Recorded = &model.Election{BonusOptOut: true}
	shed := asset("shed", "farm", "40000", model.Class7Year, date(2017, 8, 1))
	rate := dec("0.5")
	shed.Recorded = &model.Election{BonusRate: &rate}
	snap := Snapshot{
		Entities: []model.Entity{entity("farm"), entity("other")},
		Assets:   []model.Asset{barn, shed},
		Transactions: []model.Transaction{
			income("i1", "farm", date(2024, 5, 1), "100000"),
			income("i2", "other", date(2024, 5, 1), "50000"),
		},
	}

	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)
	farm, _ := report.Entity("farm")
	require.True(t, farm.OK(), "%v", farm.Err)

	byAsset := map[string]model.ScheduleEntry{}
	for _, entry := range farm.Depreciation {
		byAsset[entry.AssetID] = entry
	}
	assert.Equal(t, 10, byAsset["barn"].YearIndex)
	assert.Equal(t, "4461.00", byAsset["barn"].MACRS.StringFixed(2), "4.461%% of the full cost")
	assert.Equal(t, "20000.00", farm.Schedules["shed"][0].Bonus.StringFixed(2), "recorded 50%% bonus")
	assert.Equal(t, "892.00", byAsset["shed"].MACRS.StringFixed(2), "final 4.46%% year of the 20,000 left after bonus")
	assert.NotNil(t, report.Consolidated)

	// Without a recorded rate the asset's year has no table: only its entity fails.
	snap.Assets = append(snap.Assets, asset("ancient", "farm", "1000", model.Class7Year, date(2019, 5, 1)))
	report, err = e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)
	farm, _ = report.Entity("farm")
	assert.ErrorIs(t, farm.Err, model.ErrInvalidAsset)
	assert.Contains(t, farm.Err.Error(), "2019")
	assert.Equal(t, "depreciation", farm.Stage)
	other, _ := report.Entity("other")
	assert.True(t, other.OK())
	assert.True(t, other.Tax.TotalLiability.IsPositive())
}

func TestRunDisposedAssets(t *testing.T) {
	e := newEngine(t)
	sold := asset("planter", "farm", "100000", model.Class7Year, date(2022, 4, 1))
	sold.Recorded = &model.Election{BonusOptOut: true}
	sold.DisposedOn = date(2024, 7, 1)
	sold.Proceeds = dec("70000")
	gone := asset("disk", "farm", "20000", model.Class7Year, date(2022, 4, 1))
	gone.Recorded = &model.Election{BonusOptOut: true}
	gone.DisposedOn = date(2023, 3, 1)
	gone.Proceeds = dec("15000")
	flipped := asset("mower", "farm", "8000", model.Class7Year, date(2024, 2, 1))
	flipped.DisposedOn = date(2024, 11, 1)
	flipped.Proceeds = dec("7500")
	snap := Snapshot{
		Entities:     []model.Entity{entity("farm")},
		Assets:       []model.Asset{sold, gone, flipped},
		Transactions: []model.Transaction{income("i", "farm", date(2024, 5, 1), "100000")},
	}

	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)
	farm, _ := report.Entity("farm")
	require.True(t, farm.OK(), "%v", farm.Err)

	byAsset := map[string]model.ScheduleEntry{}
	for _, entry := range farm.Depreciation {
		byAsset[entry.AssetID] = entry
	}
	assert.Equal(t, "8745.00", byAsset["planter"].MACRS.StringFixed(2), "half of 17.49%% in the year of sale")
	assert.NotContains(t, byAsset, "disk", "no deductions after the year of sale")
	assert.True(t, byAsset["mower"].Total().IsZero(), "placed and sold in the same year")
	assert.Empty(t, farm.Plan.Order, "a sold asset takes no Section 179")
	assert.True(t, farm.DepreciationTotal().Equal(dec("8745")))

	require.Len(t, farm.Dispositions, 2)
	mower, planter := farm.Dispositions[0], farm.Dispositions[1]
	assert.Equal(t, "mower", mower.AssetID)
	assert.Equal(t, "8000.00", mower.BookValue.StringFixed(2))
	assert.Equal(t, "-500.00", mower.GainLoss.StringFixed(2))
	assert.True(t, mower.Ordinary.IsZero())

	assert.Equal(t, "planter", planter.AssetID)
	assert.Equal(t, "47525.00", planter.Depreciation.StringFixed(2))
	assert.Equal(t, "52475.00", planter.BookValue.StringFixed(2))
	assert.Equal(t, "17525.00", planter.GainLoss.StringFixed(2))
	assert.Equal(t, "17525.00", planter.Ordinary.StringFixed(2))
}

func TestRunInvalidEntityDoesNotAbortOthers(t *testing.T) {
	snap := farmSnapshot()
	snap.Transactions = append(snap.Transactions, model.Transaction{
		ID: "bad", EntityID: "grain", Date: date(2024, 1, 1), Type: model.TypeExpense, Category: "fertilizer", Amount: dec("5"),
	})
	e := newEngine(t)
	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "grain", failed[0].Entity.ID)
	assert.Equal(t, "aggregate", failed[0].Stage)
	assert.ErrorIs(t, failed[0].Err, model.ErrInputValidation)

	farm, _ := report.Entity("farm")
	assert.True(t, farm.OK())
	assert.True(t, farm.Tax.TotalLiability.IsPositive())
	assert.Nil(t, report.Consolidated, "consolidation needs every entity")
}

func TestRunAssetBeforeFormationFailsEntity(t *testing.T) {
	snap := farmSnapshot()
	for i := range snap.Entities {
		if snap.Entities[i].ID == "farm" {
			snap.Entities[i].FormationDate = date(2024, 6, 1)
		}
	}
	e := newEngine(t)
	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)
	farm, _ := report.Entity("farm")
	assert.ErrorIs(t, farm.Err, model.ErrDateOutOfRange)
}

func TestRunFatalErrors(t *testing.T) {
	e := newEngine(t)

	_, err := e.Run(context.Background(), farmSnapshot(), Options{Year: 2030, Profile: profile})
	assert.ErrorIs(t, err, model.ErrUnsupportedTaxYear)

	_, err = e.Run(context.Background(), farmSnapshot(), Options{Year: 2024, Profile: consolidate.Profile{FilingStatus: "joint"}})
	assert.ErrorIs(t, err, model.ErrInputValidation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Run(ctx, farmSnapshot(), Options{Year: 2024, Profile: profile})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunOrphanRecords(t *testing.T) {
	snap := farmSnapshot()
	snap.Assets = append(snap.Assets, asset("lost", "ranch", "1000", model.Class7Year, date(2024, 5, 1)))
	snap.Transactions = append(snap.Transactions, income("lost-t", "ranch", date(2024, 5, 1), "10"))
	e := newEngine(t)
	report, err := e.Run(context.Background(), snap, Options{Year: 2024, Profile: profile})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 2)
	assert.ErrorIs(t, report.Orphans[0], model.ErrInvalidAsset)
	assert.NotNil(t, report.Consolidated)
}

func TestRunIsIdempotent(t *testing.T) {
	e := newEngine(t)
	opts := Options{Year: 2024, Profile: profile, Concurrency: 2}
	first, err := e.Run(context.Background(), farmSnapshot(), opts)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), farmSnapshot(), opts)
	require.NoError(t, err)

	for i := range first.Entities {
		assert.Equal(t, first.Entities[i].Tax, second.Entities[i].Tax)
		assert.Equal(t, first.Entities[i].Depreciation, second.Entities[i].Depreciation)
	}
	assert.Equal(t, first.Consolidated.Combined, second.Consolidated.Combined)
}
