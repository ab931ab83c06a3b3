package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
)

// maxSQLiteVars keeps IN lists under SQLite's bound-parameter limit
const maxSQLiteVars = 500

// SQLite implements Repository on database/sql with the sqlite3 driver.
// Timestamps are bound in UTC so text comparisons order correctly.
type SQLite struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLite creates a new SQLite repository
func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{conn: conn, now: time.Now}
}

// Dialect returns db.SQLite
func (r *SQLite) Dialect() db.Dialect {
	return db.SQLite
}

// Ping checks the database is reachable
func (r *SQLite) Ping(ctx context.Context) error {
	if err := r.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("[DATABASE] ping failed: %w", err)
	}
	return nil
}

// PendingReadings returns every reading of the family not yet aggregated
func (r *SQLite) PendingReadings(ctx context.Context, fam quantity.Family) ([]db.Reading, error) {
	rows, err := r.conn.QueryContext(ctx, pendingReadingsSQL(fam))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending readings: %w", err)
	}
	defer rows.Close()

	var readings []db.Reading
	for rows.Next() {
		values := make([]sql.NullFloat64, len(fam.Fields))
		var reading db.Reading
		dest := []any{&reading.ID, &reading.ClientID, &reading.EquipmentID}
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &reading.Timestamp)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		reading.Values = make([]*float64, len(values))
		for i, v := range values {
			if v.Valid {
				f := v.Float64
				reading.Values[i] = &f
			}
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// UpsertFamily writes the family's statistics for each rollup key in one transaction
func (r *SQLite) UpsertFamily(ctx context.Context, fam quantity.Family, rollups []db.FamilyRollup) error {
	if len(rollups) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertFamilySQL(db.SQLite, fam))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := r.now()
	for _, fr := range rollups {
		if _, err := stmt.ExecContext(ctx, upsertFamilyArgs(fr, now, true)...); err != nil {
			return fmt.Errorf("failed to upsert rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// MarkAggregated flags exactly the given reading ids
func (r *SQLite) MarkAggregated(ctx context.Context, fam quantity.Family, ids []int64) (int64, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var flagged int64
	for len(ids) > 0 {
		n := len(ids)
		if n > maxSQLiteVars {
			n = maxSQLiteVars
		}
		chunk := ids[:n]
		ids = ids[n:]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("UPDATE %s SET agregado = 1 WHERE agregado = 0 AND id IN (?%s)",
			fam.Table, strings.Repeat(", ?", len(chunk)-1))

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to flag readings: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		flagged += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit flags: %w", err)
	}
	return flagged, nil
}

// InsertReading inserts a raw reading and returns its id
func (r *SQLite) InsertReading(ctx context.Context, fam quantity.Family, reading *db.Reading) (int64, error) {
	args, err := readingArgs(fam, reading, true)
	if err != nil {
		return 0, err
	}

	res, err := r.conn.ExecContext(ctx, insertReadingSQL(db.SQLite, fam), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	reading.ID = id
	return id, nil
}

// ListRollups returns rollups matching opts
func (r *SQLite) ListRollups(ctx context.Context, opts ListOptions) ([]db.Rollup, error) {
	w := newWhere(db.SQLite).filter(opts.Filter)
	query, err := selectRollupsSQL(w, opts)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.QueryContext(ctx, query, w.args...)
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
func (r *SQLite) CountRollups(ctx context.Context, f Filter) (int64, error) {
	w := newWhere(db.SQLite).filter(f)

	var count int64
	if err := r.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", db.RollupTable, w), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rollups: %w", err)
	}
	return count, nil
}

// DistinctClients returns every client id present in the rollups
func (r *SQLite) DistinctClients(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "id_cliente")
}

// DistinctEquipments returns every equipment id present in the rollups
func (r *SQLite) DistinctEquipments(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, "id_equipamento")
}

func (r *SQLite) distinct(ctx context.Context, col string) ([]string, error) {
	rows, err := r.conn.QueryContext(ctx, distinctSQL(col))
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s: %w", col, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", col, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return values, nil
}

// LastUpdatedAt returns the newest updated_at, or nil when there are no rollups
func (r *SQLite) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	return r.latest(ctx, "updated_at", newWhere(db.SQLite))
}

func (r *SQLite) latest(ctx context.Context, col string, w *where) (*time.Time, error) {
	var t time.Time
	err := r.conn.QueryRowContext(ctx, latestSQL(col, w), w.args...).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s: %w", col, err)
	}
	return &t, nil
}

// Summary aggregates the rollups matching f
func (r *SQLite) Summary(ctx context.Context, f Filter) (*db.Summary, error) {
	w := newWhere(db.SQLite).filter(f)

	var s db.Summary
	err := r.conn.QueryRowContext(ctx, summarySQL(w), w.args...).Scan(
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

// CountTables returns the number of user tables in the database file
func (r *SQLite) CountTables(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tables: %w", err)
	}
	return n, nil
}

// TableCounts returns the row count of every application table
func (r *SQLite) TableCounts(ctx context.Context) ([]db.TableCount, error) {
	var counts []db.TableCount
	for _, table := range applicationTables() {
		var n int64
		if err := r.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts = append(counts, db.TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
