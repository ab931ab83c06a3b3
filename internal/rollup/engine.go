package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Strategy selects how a family is aggregated
type Strategy string

const (
	// Bulk runs one grouped upsert statement per family inside the database
	Bulk Strategy = "bulk"
	// Loop groups and reduces readings in process
	Loop Strategy = "loop"
)

// Store is the minimal contract every backing store satisfies
type Store interface {
	Ping(ctx context.Context) error
}

// RowStore exposes raw rows so the engine can reduce them in process
type RowStore interface {
	Store
	// PendingReadings returns every reading of the family not yet aggregated
	PendingReadings(ctx context.Context, fam quantity.Family) ([]db.Reading, error)
	// UpsertFamily writes the family's statistics for each rollup key
	UpsertFamily(ctx context.Context, fam quantity.Family, rollups []db.FamilyRollup) error
	// MarkAggregated flags exactly the given reading ids
	MarkAggregated(ctx context.Context, fam quantity.Family, ids []int64) (int64, error)
}

// BulkStore aggregates a snapshot of pending ids with a single statement
type BulkStore interface {
	Store
	PendingIDs(ctx context.Context, fam quantity.Family) ([]int64, error)
	// AggregateBulk upserts the rollups of the given ids and returns the number of groups written
	AggregateBulk(ctx context.Context, fam quantity.Family, ids []int64, period Period, loc *time.Location) (int64, error)
	MarkAggregated(ctx context.Context, fam quantity.Family, ids []int64) (int64, error)
}

// Options configures an Engine
type Options struct {
	Strategy Strategy
	Location *time.Location
	// Families defaults to every registered family
	Families []quantity.Family
}

// FamilyReport is the outcome of one family within a run
type FamilyReport struct {
	Family  string `json:"family"`
	Rows    int    `json:"rows"`
	Groups  int64  `json:"groups"`
	Flagged int64  `json:"flagged"`
	Err     error  `json:"-"`
}

// Report summarizes one aggregation run
type Report struct {
	RunID      string         `json:"run_id"`
	Period     string         `json:"period"`
	Strategy   Strategy       `json:"strategy"`
	Families   []FamilyReport `json:"families"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Rows returns the number of raw rows consumed across families
func (r *Report) Rows() int {
	total := 0
	for _, f := range r.Families {
		total += f.Rows
	}
	return total
}

// Failed returns the names of families that did not complete
func (r *Report) Failed() []string {
	var failed []string
	for _, f := range r.Families {
		if f.Err != nil {
			failed = append(failed, f.Family)
		}
	}
	return failed
}

// Engine aggregates raw readings into rollups
type Engine struct {
	store    Store
	strategy Strategy
	loc      *time.Location
	families []quantity.Family
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine over store. A bulk strategy on a store that cannot run
// bulk statements falls back to the loop strategy.
func NewEngine(store Store, opts Options, logger *zap.Logger) (*Engine, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Families == nil {
		opts.Families = quantity.Families
	}
	if opts.Strategy == "" {
		opts.Strategy = Bulk
	}

	_, canRows := store.(RowStore)
	_, canBulk := store.(BulkStore)

	switch opts.Strategy {
	case Bulk:
		if !canBulk {
			if !canRows {
				return nil, fmt.Errorf("store %T supports neither bulk nor loop aggregation", store)
			}
			logger.Warn("store does not support bulk aggregation, using loop strategy")
			opts.Strategy = Loop
		}
	case Loop:
		if !canRows {
			return nil, fmt.Errorf("store %T does not support loop aggregation", store)
		}
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %q", opts.Strategy)
	}

	return &Engine{
		store:    store,
		strategy: opts.Strategy,
		loc:      opts.Location,
		families: opts.Families,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Strategy returns the effective strategy
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Aggregate runs one aggregation pass over every family.
// An unreachable store aborts the run; a failing family does not stop the others and
// its error is included in the returned (combined) error. The report is always returned.
func (e *Engine) Aggregate(ctx context.Context, period Period) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		Period:    period.String(),
		Strategy:  e.strategy,
		StartedAt: e.now(),
	}
	logger := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("period", report.Period),
		zap.String("strategy", string(e.strategy)))

	if err := e.store.Ping(ctx); err != nil {
		report.FinishedAt = e.now()
		logger.Error("store unreachable, aborting aggregation", zap.Error(err))
		return report, fmt.Errorf("store unreachable: %w", err)
	}

	var errs error
	for _, fam := range e.families {
		fr := e.aggregateFamily(ctx, fam, period)
		report.Families = append(report.Families, fr)

		if fr.Err != nil {
			logger.Error("family aggregation failed",
				zap.String("family", fam.Name), zap.Error(fr.Err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", fam.Name, fr.Err))
			continue
		}
		logger.Debug("family aggregated",
			zap.String("family", fam.Name),
			zap.Int("rows", fr.Rows),
			zap.Int64("groups", fr.Groups),
			zap.Int64("flagged", fr.Flagged))
	}

	report.FinishedAt = e.now()
	logger.Info("aggregation finished",
		zap.Int("rows", report.Rows()),
		zap.Strings("failed", report.Failed()),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	return report, errs
}

func (e *Engine) aggregateFamily(ctx context.Context, fam quantity.Family, period Period) FamilyReport {
	fr := FamilyReport{Family: fam.Name}
	if e.strategy == Bulk {
		fr.Rows, fr.Groups, fr.Flagged, fr.Err = e.bulk(ctx, e.store.(BulkStore), fam, period)
	} else {
		fr.Rows, fr.Groups, fr.Flagged, fr.Err = e.loop(ctx, e.store.(RowStore), fam, period)
	}
	return fr
}

func (e *Engine) bulk(ctx context.Context, store BulkStore, fam quantity.Family, period Period) (int, int64, int64, error) {
	ids, err := store.PendingIDs(ctx, fam)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to select pending rows: %w", err)
	}
	if len(ids) == 0 {
		return 0, 0, 0, nil
	}

	groups, err := store.AggregateBulk(ctx, fam, ids, period, e.loc)
	if err != nil {
		return len(ids), 0, 0, fmt.Errorf("failed to upsert rollups: %w", err)
	}

	flagged, err := store.MarkAggregated(ctx, fam, ids)
	if err != nil {
		return len(ids), groups, 0, fmt.Errorf("failed to flag aggregated rows: %w", err)
	}

	return len(ids), groups, flagged, nil
}

func (e *Engine) loop(ctx context.Context, store RowStore, fam quantity.Family, period Period) (int, int64, int64, error) {
	readings, err := store.PendingReadings(ctx, fam)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to select pending rows: %w", err)
	}
	if len(readings) == 0 {
		return 0, 0, 0, nil
	}

	groups := GroupReadings(readings, period, e.loc)
	rollups := make([]db.FamilyRollup, len(groups))
	for i, g := range groups {
		rollups[i] = Fold(fam, g)
	}

	if err := store.UpsertFamily(ctx, fam, rollups); err != nil {
		return len(readings), 0, 0, fmt.Errorf("failed to upsert rollups: %w", err)
	}

	ids := make([]int64, len(readings))
	for i, r := range readings {
		ids[i] = r.ID
	}
	flagged, err := store.MarkAggregated(ctx, fam, ids)
	if err != nil {
		return len(readings), int64(len(rollups)), 0, fmt.Errorf("failed to flag aggregated rows: %w", err)
	}

	return len(readings), int64(len(rollups)), flagged, nil
}
