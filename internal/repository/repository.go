package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
)

// Filter restricts rollup queries. Zero values are ignored.
type Filter struct {
	ClientID    string
	EquipmentID string
	// StartFrom and StartTo bound periodo_inicio, inclusive
	StartFrom *time.Time
	StartTo   *time.Time
	// EndFrom bounds periodo_fim from below, inclusive
	EndFrom *time.Time
	// EndBefore bounds periodo_fim from above, exclusive
	EndBefore *time.Time
}

// HasDateRange reports whether either periodo_inicio bound is set
func (f Filter) HasDateRange() bool {
	return f.StartFrom != nil || f.StartTo != nil
}

// Order columns accepted by ListOptions
const (
	OrderByPeriodStart = "periodo_inicio"
	OrderByPeriodEnd   = "periodo_fim"
	OrderByUpdatedAt   = "updated_at"
)

// ListOptions controls rollup listing
type ListOptions struct {
	Filter    Filter
	OrderBy   string
	Ascending bool
	// Limit of zero means no limit
	Limit int
}

// Repository handles database operations on the reading and rollup tables
type Repository interface {
	Dialect() db.Dialect
	Ping(ctx context.Context) error

	PendingReadings(ctx context.Context, fam quantity.Family) ([]db.Reading, error)
	UpsertFamily(ctx context.Context, fam quantity.Family, rollups []db.FamilyRollup) error
	MarkAggregated(ctx context.Context, fam quantity.Family, ids []int64) (int64, error)
	InsertReading(ctx context.Context, fam quantity.Family, reading *db.Reading) (int64, error)

	ListRollups(ctx context.Context, opts ListOptions) ([]db.Rollup, error)
	CountRollups(ctx context.Context, f Filter) (int64, error)
	DistinctClients(ctx context.Context) ([]string, error)
	DistinctEquipments(ctx context.Context) ([]string, error)
	LastUpdatedAt(ctx context.Context) (*time.Time, error)
	Summary(ctx context.Context, f Filter) (*db.Summary, error)

	CountTables(ctx context.Context) (int64, error)
	TableCounts(ctx context.Context) ([]db.TableCount, error)
}

func orderClause(opts ListOptions) (string, error) {
	col := opts.OrderBy
	switch col {
	case "":
		col = OrderByPeriodStart
	case OrderByPeriodStart, OrderByPeriodEnd, OrderByUpdatedAt:
	default:
		return "", fmt.Errorf("cannot order rollups by %q", opts.OrderBy)
	}
	dir := "DESC"
	if opts.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir), nil
}
