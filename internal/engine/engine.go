// Package engine runs a full tax-year computation over a snapshot of entity,
// asset and transaction records.
//
// A run has five stages: table lookup, a concurrent per-entity pre-pass
// (validation, aggregation, depreciation of earlier-year assets), sequential
// Section 179 planning against the taxpayer-wide budget, concurrent
// per-entity finalization, and consolidation. Invalid input fails only the
// entity it belongs to; an unsupported target year or an invariant violation
// fails the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cleared-dev/farmtax/internal/consolidate"
	"github.com/cleared-dev/farmtax/internal/depreciation"
	"github.com/cleared-dev/farmtax/internal/election"
	"github.com/cleared-dev/farmtax/internal/ledger"
	"github.com/cleared-dev/farmtax/internal/metrics"
	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/tax"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

// maxPlanningRounds bounds the Section 179 income-limit iteration.
const maxPlanningRounds = 10

// Snapshot is a consistent, read-only copy of the records for a run.
type Snapshot struct {
	Entities     []model.Entity
	Assets       []model.Asset
	Transactions []model.Transaction
}

// Options select the year and the taxpayer-level choices for a run.
type Options struct {
	Year      int
	Profile   consolidate.Profile
	Objective election.Objective // empty = minimize_current_tax
	// Requested holds explicit Section 179 amounts by asset ID.
	Requested map[string]decimal.Decimal
	// BonusOptOut lists assets elected out of bonus depreciation.
	BonusOptOut map[string]bool
	// Concurrency limits concurrent entity work; 0 means no limit.
	Concurrency int
}

// EntityReport is one entity's computed year.
type EntityReport struct {
	Entity     model.Entity
	Summary    ledger.Summary
	Plan       election.Plan
	Convention model.Convention
	// Schedules holds the full-life schedule of every asset depreciating in
	// or before the year, keyed by asset ID.
	Schedules map[string][]model.ScheduleEntry
	// Depreciation holds the year's entry for each of those assets, by asset ID.
	Depreciation []model.ScheduleEntry
	// Dispositions holds the assets sold or retired during the year.
	Dispositions []model.Disposition
	Tax          model.TaxResult
	// Err is set when the entity's input was invalid; the other fields are
	// then incomplete.
	Err   error
	Stage string

	assets  []model.Asset
	txns    []model.Transaction
	current []model.Asset
	// prior holds assets placed in earlier years plus current-year assets
	// already disposed of; neither takes part in Section 179 planning.
	prior             []model.Asset
	priorDepreciation decimal.Decimal
	rounds            int
}

// OK reports whether the entity was fully computed.
func (r *EntityReport) OK() bool { return r.Err == nil }

// DepreciationTotal sums the year's depreciation entries.
func (r *EntityReport) DepreciationTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range r.Depreciation {
		total = total.Add(e.Total())
	}
	return total
}

// Report is the output of a run.
type Report struct {
	Year     int
	Entities []*EntityReport // ordered by entity ID
	Budget   election.Budget
	// Orphans are records that name an entity absent from the snapshot.
	Orphans  []error
	Warnings []model.PolicyLimitExceeded
	// Consolidated is nil when any entity failed, since the combined figures
	// need every entity's result.
	Consolidated *consolidate.Summary
}

// Entity returns the report for an entity ID.
func (r *Report) Entity(id string) (*EntityReport, bool) {
	for _, e := range r.Entities {
		if e.Entity.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Failed returns the entities that could not be computed.
func (r *Report) Failed() []*EntityReport {
	var out []*EntityReport
	for _, e := range r.Entities {
		if !e.OK() {
			out = append(out, e)
		}
	}
	return out
}

// Engine runs computations. It is safe for concurrent use.
type Engine struct {
	tables       *taxtable.Registry
	depr         *depreciation.Calculator
	tax          *tax.Calculator
	consolidator *consolidate.Consolidator
	log          *zap.Logger
	metrics      *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the engine's metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over tables.
func New(tables *taxtable.Registry, opts ...Option) *Engine {
	calc := tax.NewCalculator(tables)
	e := &Engine{
		tables:       tables,
		depr:         depreciation.NewCalculator(tables),
		tax:          calc,
		consolidator: consolidate.New(calc),
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e
}

// Run computes opts.Year for every entity in snap.
func (e *Engine) Run(ctx context.Context, snap Snapshot, opts Options) (*Report, error) {
	start := time.Now()
	report, err := e.run(ctx, snap, opts)
	e.metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.RunsTotal.WithLabelValues("error").Inc()
		e.log.Error("run failed", zap.Int("year", opts.Year), zap.Error(err))
		return nil, err
	}
	e.metrics.RunsTotal.WithLabelValues("ok").Inc()
	e.log.Info("run finished",
		zap.Int("year", opts.Year),
		zap.Int("entities", len(report.Entities)),
		zap.Int("failed", len(report.Failed())),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (e *Engine) run(ctx context.Context, snap Snapshot, opts Options) (*Report, error) {
	year, err := e.tables.Lookup(opts.Year)
	if err != nil {
		return nil, fmt.Errorf("tax year %d: %w", opts.Year, err)
	}
	if !opts.Profile.FilingStatus.Valid() {
		return nil, &model.InputValidationError{Field: "FilingStatus", Message: fmt.Sprintf("unknown filing status %q", opts.Profile.FilingStatus)}
	}
	if opts.Objective == "" {
		opts.Objective = election.MinimizeCurrentTax
	}
	if !opts.Objective.Valid() {
		return nil, &model.InputValidationError{Field: "Objective", Message: fmt.Sprintf("unknown objective %q", opts.Objective)}
	}
	e.log.Info("run started",
		zap.Int("year", opts.Year),
		zap.Int("entities", len(snap.Entities)),
		zap.String("objective", string(opts.Objective)))

	report := &Report{Year: opts.Year}
	entities, err := e.group(snap, report)
	if err != nil {
		return nil, err
	}
	report.Entities = entities

	if err := e.each(ctx, entities, opts.Concurrency, func(r *EntityReport) error {
		return e.prepare(r, opts.Year)
	}); err != nil {
		return nil, err
	}

	report.Budget = election.NewBudget(year.Section179, placedThisYear(entities))
	for _, r := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.OK() {
			continue
		}
		if err := e.plan(r, opts, &report.Budget); err != nil {
			return nil, err
		}
		report.Warnings = append(report.Warnings, r.Plan.Warnings...)
	}

	if err := e.each(ctx, entities, opts.Concurrency, func(r *EntityReport) error {
		return e.finalize(r, opts)
	}); err != nil {
		return nil, err
	}

	if len(report.Failed()) > 0 || len(entities) == 0 {
		e.log.Warn("consolidation skipped", zap.Int("failed", len(report.Failed())), zap.Int("entities", len(entities)))
		return report, nil
	}
	results := make([]consolidate.EntityResult, 0, len(entities))
	for _, r := range entities {
		results = append(results, consolidate.EntityResult{Summary: r.Summary, Tax: r.Tax})
	}
	summary, err := e.consolidator.Consolidate(opts.Year, opts.Profile, results)
	if err != nil {
		return nil, err
	}
	report.Consolidated = &summary
	return report, nil
}

// group sorts entities by ID and attaches their assets. Records naming an
// unknown entity are reported as orphans; a duplicate entity ID is fatal.
func (e *Engine) group(snap Snapshot, report *Report) ([]*EntityReport, error) {
	byID := make(map[string]*EntityReport, len(snap.Entities))
	out := make([]*EntityReport, 0, len(snap.Entities))
	for _, ent := range snap.Entities {
		if _, dup := byID[ent.ID]; dup {
			return nil, &model.InputValidationError{Record: ent.ID, Field: "ID", Message: "duplicate entity ID"}
		}
		r := &EntityReport{Entity: ent, Schedules: map[string][]model.ScheduleEntry{}}
		byID[ent.ID] = r
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity.ID < out[j].Entity.ID })

	for _, a := range snap.Assets {
		r, ok := byID[a.EntityID]
		if !ok {
			report.Orphans = append(report.Orphans, model.InvalidAssetError(a.ID, "EntityID", fmt.Sprintf("unknown entity %q", a.EntityID)))
			continue
		}
		r.assets = append(r.assets, a)
	}
	txnsByEntity := make(map[string][]model.Transaction, len(byID))
	for _, t := range snap.Transactions {
		if _, ok := byID[t.EntityID]; !ok {
			report.Orphans = append(report.Orphans, &model.InputValidationError{Record: t.ID, Field: "EntityID", Message: fmt.Sprintf("unknown entity %q", t.EntityID)})
			continue
		}
		txnsByEntity[t.EntityID] = append(txnsByEntity[t.EntityID], t)
	}
	for _, r := range out {
		r.txns = txnsByEntity[r.Entity.ID]
	}
	for _, o := range report.Orphans {
		e.log.Warn("orphan record", zap.Error(o))
	}
	return out, nil
}

// each runs fn for every entity that has not failed, concurrently. fn
// returns only fatal errors; input errors are recorded on the entity.
func (e *Engine) each(ctx context.Context, entities []*EntityReport, limit int, fn func(*EntityReport) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, r := range entities {
		if !r.OK() {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(r)
		})
	}
	return g.Wait()
}

// fail records an input error on r and reports whether err was one. Any
// other error is fatal and returned unchanged by the caller.
func (e *Engine) fail(r *EntityReport, stage string, err error) bool {
	if !errors.Is(err, model.ErrInputValidation) {
		return false
	}
	r.Err, r.Stage = err, stage
	e.metrics.EntityFailures.WithLabelValues(stage).Inc()
	e.log.Warn("entity failed", zap.String("entity", r.Entity.ID), zap.String("stage", stage), zap.Error(err))
	return true
}

func (e *Engine) prepare(r *EntityReport, taxYear int) error {
	if err := model.ValidateEntity(r.Entity); err != nil {
		e.fail(r, "validate", err)
		return nil
	}

	summaries, err := ledger.Aggregate(r.Entity, r.txns)
	if err != nil {
		if e.fail(r, "aggregate", err) {
			return nil
		}
		return err
	}
	r.Summary = ledger.ForYear(r.Entity, summaries, taxYear)

	byYear := map[int][]model.Asset{}
	for _, a := range r.assets {
		if err := model.ValidateAsset(a); err != nil {
			e.fail(r, "validate", err)
			return nil
		}
		switch {
		case a.Year() == taxYear && a.DisposedInPlacedYear():
			r.prior = append(r.prior, a)
		case a.Year() == taxYear:
			r.current = append(r.current, a)
		case a.Year() < taxYear:
			r.prior = append(r.prior, a)
			byYear[a.Year()] = append(byYear[a.Year()], a)
		}
	}

	r.priorDepreciation = decimal.Zero
	for _, a := range r.prior {
		recorded := make(map[string]model.Election, len(byYear[a.Year()]))
		for _, peer := range byYear[a.Year()] {
			recorded[peer.ID] = peer.RecordedElection()
		}
		conv := depreciation.DetermineConvention(byYear[a.Year()], recorded)
		entries, err := e.depr.Schedule(r.Entity, a, a.RecordedElection(), conv)
		if errors.Is(err, model.ErrUnsupportedTaxYear) {
			err = model.InvalidAssetError(a.ID, "Recorded.BonusRate",
				fmt.Sprintf("%v; record the bonus rate or a bonus opt-out", err))
		}
		if err != nil {
			if e.fail(r, "depreciation", err) {
				return nil
			}
			return fmt.Errorf("entity %s: %w", r.Entity.ID, err)
		}
		r.Schedules[a.ID] = entries
		if a.IsDisposed() && a.DisposedOn.Year() == taxYear {
			d, err := depreciation.Dispose(a, entries)
			if err != nil {
				return fmt.Errorf("entity %s: %w", r.Entity.ID, err)
			}
			r.Dispositions = append(r.Dispositions, d)
		}
		// Fully recovered and disposed assets have no entry for the year and
		// are left out of Depreciation.
		if taxYear-a.Year() >= len(entries) {
			continue
		}
		entry := depreciation.EntryFor(entries, a, conv, taxYear)
		r.Depreciation = append(r.Depreciation, entry)
		r.priorDepreciation = r.priorDepreciation.Add(entry.Total())
	}
	return nil
}

// plan allocates Section 179 for r's current-year assets. The income limit
// depends on the year's other depreciation, which itself shrinks as Section
// 179 grows, so the limit is recomputed until it settles.
func (e *Engine) plan(r *EntityReport, opts Options, budget *election.Budget) error {
	base := r.Summary.ProfitBeforeDepreciation().Sub(r.priorDepreciation)
	req := election.Request{
		EntityID:    r.Entity.ID,
		Year:        opts.Year,
		Assets:      r.current,
		Objective:   opts.Objective,
		Requested:   pick(opts.Requested, r.current),
		BonusOptOut: pickBool(opts.BonusOptOut, r.current),
		Budget:      *budget,
	}

	elections := map[string]model.Election{}
	for _, a := range r.current {
		elections[a.ID] = model.Election{BonusOptOut: req.BonusOptOut[a.ID] || opts.Objective == election.SpreadDeductions}
	}
	other, conv, err := e.otherDepreciation(r, elections, opts.Year)
	if err != nil {
		return e.planErr(r, err)
	}
	req.IncomeLimit = base.Sub(other)

	var plan election.Plan
	for round := 1; ; round++ {
		plan = election.Optimize(req)
		other, conv, err = e.otherDepreciation(r, plan.Elections, opts.Year)
		if err != nil {
			return e.planErr(r, err)
		}
		limit := base.Sub(other)
		r.rounds = round
		if limit.Equal(req.IncomeLimit) {
			break
		}
		if round == maxPlanningRounds {
			if plan.Section179.GreaterThan(decimal.Max(decimal.Zero, limit)) {
				req.IncomeLimit = decimal.Min(req.IncomeLimit, limit)
				plan = election.Optimize(req)
				_, conv, err = e.otherDepreciation(r, plan.Elections, opts.Year)
				if err != nil {
					return e.planErr(r, err)
				}
			}
			e.log.Warn("section 179 planning did not settle",
				zap.String("entity", r.Entity.ID), zap.Int("rounds", round))
			break
		}
		req.IncomeLimit = limit
	}

	r.Plan = plan
	r.Convention = conv
	*budget = budget.Consume(plan.Section179)
	e.metrics.Section179.WithLabelValues(r.Entity.ID).Set(plan.Section179.InexactFloat64())

	for _, w := range plan.Warnings {
		e.metrics.ElectionsClamped.WithLabelValues(w.Limit).Inc()
		e.log.Warn("election clamped",
			zap.String("entity", r.Entity.ID),
			zap.String("asset", w.Record),
			zap.String("limit", w.Limit),
			zap.String("requested", w.Requested.StringFixed(2)),
			zap.String("allowed", w.Allowed.StringFixed(2)))
	}
	if plan.Infeasible {
		e.log.Info("section 179 infeasible", zap.String("entity", r.Entity.ID), zap.String("reason", plan.Reason))
	}
	e.log.Debug("section 179 planned",
		zap.String("entity", r.Entity.ID),
		zap.String("allocated", plan.Section179.StringFixed(2)),
		zap.String("convention", string(conv)),
		zap.Int("rounds", r.rounds))
	return nil
}

func (e *Engine) planErr(r *EntityReport, err error) error {
	if e.fail(r, "planning", err) {
		return nil
	}
	return fmt.Errorf("entity %s: %w", r.Entity.ID, err)
}

// otherDepreciation returns the year's bonus and MACRS on current-year
// assets under elections, with the convention those elections imply.
func (e *Engine) otherDepreciation(r *EntityReport, elections map[string]model.Election, taxYear int) (decimal.Decimal, model.Convention, error) {
	conv := depreciation.DetermineConvention(r.current, elections)
	total := decimal.Zero
	for _, a := range r.current {
		entry, err := e.depr.ForYear(r.Entity, a, elections[a.ID], conv, taxYear)
		if err != nil {
			return decimal.Zero, conv, err
		}
		total = total.Add(entry.Bonus).Add(entry.MACRS)
	}
	return total, conv, nil
}

func (e *Engine) finalize(r *EntityReport, opts Options) error {
	conv := r.Convention
	if conv == "" {
		conv = model.ConventionHalfYear
	}
	for _, a := range r.current {
		entries, err := e.depr.Schedule(r.Entity, a, r.Plan.Election(a.ID), conv)
		if err != nil {
			if e.fail(r, "depreciation", err) {
				return nil
			}
			return fmt.Errorf("entity %s: %w", r.Entity.ID, err)
		}
		r.Schedules[a.ID] = entries
		r.Depreciation = append(r.Depreciation, depreciation.EntryFor(entries, a, conv, opts.Year))
	}
	sort.Slice(r.Depreciation, func(i, j int) bool { return r.Depreciation[i].AssetID < r.Depreciation[j].AssetID })
	sort.Slice(r.Dispositions, func(i, j int) bool { return r.Dispositions[i].AssetID < r.Dispositions[j].AssetID })

	r.Summary = r.Summary.WithDepreciation(r.DepreciationTotal())
	res, err := e.tax.Calculate(tax.Input{
		EntityID:     r.Entity.ID,
		Year:         opts.Year,
		NetProfit:    r.Summary.NetProfit,
		FilingStatus: opts.Profile.FilingStatus,
		State:        r.Entity.StateCode(),
		Exemptions:   opts.Profile.Exemptions,
		Dependents:   opts.Profile.Dependents,
	})
	if err != nil {
		if e.fail(r, "tax", err) {
			return nil
		}
		return fmt.Errorf("entity %s: %w", r.Entity.ID, err)
	}
	r.Tax = res
	e.metrics.EntitiesComputed.Inc()
	e.metrics.Liability.WithLabelValues(r.Entity.ID).Set(res.TotalLiability.InexactFloat64())
	return nil
}

func placedThisYear(entities []*EntityReport) decimal.Decimal {
	total := decimal.Zero
	for _, r := range entities {
		if r.OK() {
			total = total.Add(election.Placed(r.current))
		}
	}
	return total
}

func pick(m map[string]decimal.Decimal, assets []model.Asset) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, a := range assets {
		if v, ok := m[a.ID]; ok {
			out[a.ID] = v
		}
	}
	return out
}

func pickBool(m map[string]bool, assets []model.Asset) map[string]bool {
	out := make(map[string]bool)
	for _, a := range assets {
		if m[a.ID] {
			out[a.ID] = true
		}
	}
	return out
}
