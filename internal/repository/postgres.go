package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/septivank/sensor-rollup/internal/rollup"
)

// Postgres implements Repository and rollup.BulkStore on a pgx pool
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres creates a new Postgres repository
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Dialect returns db.Postgres
func (r *Postgres) Dialect() db.Dialect {
	return db.Postgres
}

// Ping checks the database is reachable
func (r *Postgres) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("[DATABASE] ping failed: %w", err)
	}
	return nil
}

// PendingIDs returns the ids of readings not yet aggregated
func (r *Postgres) PendingIDs(ctx context.Context, fam quantity.Family) ([]int64, error) {
	query := fmt.Sprintf("SELECT id FROM %s WHERE agregado = false ORDER BY id", fam.Table)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to collect pending ids: %w", err)
	}
	return ids, nil
}

// AggregateBulk upserts the rollups of the given ids in a single statement
func (r *Postgres) AggregateBulk(ctx context.Context, fam quantity.Family, ids []int64, period rollup.Period, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	hours := int(period.Width() / time.Hour)

	tag, err := r.pool.Exec(ctx, bulkAggregateSQL(fam), ids, period.String(), loc.String(), hours)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate %s: %w", fam.Table, err)
	}
	return tag.RowsAffected(), nil
}

// PendingReadings returns every reading of the family not yet aggregated
func (r *Postgres) PendingReadings(ctx context.Context, fam quantity.Family) ([]db.Reading, error) {
	rows, err := r.pool.Query(ctx, pendingReadingsSQL(fam))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending readings: %w", err)
	}
	defer rows.Close()

	var readings []db.Reading
	for rows.Next() {
		reading := db.Reading{Values: make([]*float64, len(fam.Fields))}
		dest := []any{&reading.ID, &reading.ClientID, &reading.EquipmentID}
		for i := range reading.Values {
			dest = append(dest, &reading.Values[i])
		}
		dest = append(dest, &reading.Timestamp)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// UpsertFamily writes the family's statistics for each rollup key in one batch
func (r *Postgres) UpsertFamily(ctx context.Context, fam quantity.Family, rollups []db.FamilyRollup) error {
	if len(rollups) == 0 {
		return nil
	}

	query := upsertFamilySQL(db.Postgres, fam)
	now := r.now()

	batch := &pgx.Batch{}
	for _, fr := range rollups {
		batch.Queue(query, upsertFamilyArgs(fr, now, false)...)
	}

	results := r.pool.SendBatch(ctx, batch)
	for range rollups {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert rollup: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close upsert batch: %w", err)
	}

	return nil
}

// MarkAggregated flags exactly the given reading ids
func (r *Postgres) MarkAggregated(ctx context.Context, fam quantity.Family, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("UPDATE %s SET agregado = true WHERE id = ANY($1) AND agregado = false", fam.Table)

	tag, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to flag readings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertReading inserts a raw reading and returns its id
func (r *Postgres) InsertReading(ctx context.Context, fam quantity.Family, reading *db.Reading) (int64, error) {
	args, err := readingArgs(fam, reading, false)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.pool.QueryRow(ctx, insertReadingSQL(db.Postgres, fam)+" RETURNING id", args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}
	reading.ID = id
	return id, nil
}

// ListRollups returns rollups matching opts
func (r *Postgres) ListRollups(ctx context.Context, opts ListOptions) ([]db.Rollup, error) {
	w := newWhere(db.Postgres).filter(opts.Filter)
	query, err := selectRollupsSQL(w, opts)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	scanner := newRollupScanner()
	var rollups []db.Rollup
	for rows.Next() {
		rollup, err := scanner.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		rollups = append(rollups, rollup)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rollups, nil
}

// CountRollups counts rollups matching f
func (r *Postgres) CountRollups(ctx context.Context, f Filter) (int64, error) {
	w := newWhere(db.Postgres).filter(f)

	var count int64
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", db.RollupTable, w), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rollups: %w", err)
	}
	return count, nil
}

// DistinctClients returns every client id present in the rollups
func (r *Postgres) DistinctClients(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "id_cliente")
}

// DistinctEquipments returns every equipment id present in the rollups
func (r *Postgres) DistinctEquipments(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "id_equipamento")
}

func (r *Postgres) distinct(ctx context.Context, col string) ([]string, error) {
	rows, err := r.pool.Query(ctx, distinctSQL(col))
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", col, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect distinct %s: %w", col, err)
	}
	return values, nil
}

// LastUpdatedAt returns the newest updated_at, or nil when there are no rollups
func (r *Postgres) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	return r.latest(ctx, "updated_at", newWhere(db.Postgres))
}

func (r *Postgres) latest(ctx context.Context, col string, w *where) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx, latestSQL(col, w), w.args...).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s: %w", col, err)
	}
	return &t, nil
}

// Summary aggregates the rollups matching f
func (r *Postgres) Summary(ctx context.Context, f Filter) (*db.Summary, error) {
	w := newWhere(db.Postgres).filter(f)

	var s db.Summary
	err := r.pool.QueryRow(ctx, summarySQL(w), w.args...).Scan(
		&s.Count,
		&s.TemperatureMean,
		&s.TemperatureMax,
		&s.BrunidoresMean,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize rollups: %w", err)
	}

	s.LastPeriodEnd, err = r.latest(ctx, "periodo_fim", w)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// CountTables returns the number of tables in the public schema
func (r *Postgres) CountTables(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tables: %w", err)
	}
	return n, nil
}

// TableCounts returns the row count of every application table
func (r *Postgres) TableCounts(ctx context.Context) ([]db.TableCount, error) {
	var counts []db.TableCount
	for _, table := range applicationTables() {
		var n int64
		if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts = append(counts, db.TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
