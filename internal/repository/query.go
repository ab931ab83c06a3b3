package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/shopspring/decimal"
)

// where accumulates conditions and their bind arguments for a dialect
type where struct {
	dialect db.Dialect
	conds   []string
	args    []any
	// utc converts time arguments, needed where timestamps are stored as text
	utc bool
}

func newWhere(d db.Dialect) *where {
	return &where{dialect: d, utc: d == db.SQLite}
}

// add appends a condition whose single %s is replaced by the next placeholder
func (w *where) add(cond string, arg any) {
	if t, ok := arg.(time.Time); ok && w.utc {
		arg = t.UTC()
	}
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, w.dialect.Placeholder(len(w.args))))
}

func (w *where) filter(f Filter) *where {
	if f.ClientID != "" {
		w.add("id_cliente = %s", f.ClientID)
	}
	if f.EquipmentID != "" {
		w.add("id_equipamento = %s", f.EquipmentID)
	}
	if f.StartFrom != nil {
		w.add("periodo_inicio >= %s", *f.StartFrom)
	}
	if f.StartTo != nil {
		w.add("periodo_inicio <= %s", *f.StartTo)
	}
	if f.EndFrom != nil {
		w.add("periodo_fim >= %s", *f.EndFrom)
	}
	if f.EndBefore != nil {
		w.add("periodo_fim < %s", *f.EndBefore)
	}
	return w
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func selectRollupsSQL(w *where, opts ListOptions) (string, error) {
	order, err := orderClause(opts)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s%s",
		strings.Join(db.RollupColumns(), ", "), db.RollupTable, w, order)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, nil
}

func pendingReadingsSQL(fam quantity.Family) string {
	return fmt.Sprintf(`SELECT id, id_cliente, id_equipamento, %s, "timestamp" FROM %s WHERE agregado = false ORDER BY "timestamp", id`,
		strings.Join(fam.Columns(), ", "), fam.Table)
}

func insertReadingSQL(d db.Dialect, fam quantity.Family) string {
	cols := append([]string{"id_cliente", "id_equipamento"}, fam.Columns()...)
	cols = append(cols, "agregado", `"timestamp"`)
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		fam.Table, strings.Join(cols, ", "), strings.Join(ph, ", "))
}

// conflictSet is the ON CONFLICT update list for a family.
// Nullable fields keep the stored value when the new group has no sample;
// periodo_fim and created_at are never touched.
func conflictSet(fam quantity.Family) string {
	var sets []string
	for _, field := range fam.Fields {
		for _, col := range field.StatColumns() {
			if field.Nullable {
				sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", col, col, db.RollupTable, col))
			} else {
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
			}
		}
	}
	sets = append(sets,
		"registros_contagem = EXCLUDED.registros_contagem",
		"updated_at = EXCLUDED.updated_at")
	return strings.Join(sets, ", ")
}

func upsertColumns(fam quantity.Family) []string {
	cols := []string{"id_cliente", "id_equipamento", "periodo_inicio", "periodo_fim"}
	cols = append(cols, fam.RollupColumns()...)
	return append(cols, "registros_contagem", "created_at", "updated_at")
}

// upsertFamilySQL writes one family's statistics for one rollup key
func upsertFamilySQL(d db.Dialect, fam quantity.Family) string {
	cols := upsertColumns(fam)
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id_cliente, id_equipamento, periodo_inicio) DO UPDATE SET %s",
		db.RollupTable, strings.Join(cols, ", "), strings.Join(ph, ", "), conflictSet(fam))
}

// upsertFamilyArgs returns bind arguments matching upsertColumns
func upsertFamilyArgs(fr db.FamilyRollup, now time.Time, utc bool) []any {
	start, end := fr.Key.PeriodStart, fr.PeriodEnd
	if utc {
		start, end, now = start.UTC(), end.UTC(), now.UTC()
	}
	args := []any{fr.Key.ClientID, fr.Key.EquipmentID, start, end}
	for _, s := range fr.Stats {
		args = append(args, decimalArg(s.Mean), decimalArg(s.Max), decimalArg(s.Min), decimalArg(s.Last))
	}
	return append(args, fr.RowCount, now, now)
}

func decimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

// bulkAggregateSQL groups the given reading ids and upserts their statistics in one statement.
// Parameters: $1 ids, $2 date_trunc unit, $3 time zone, $4 bucket width in hours.
func bulkAggregateSQL(fam quantity.Family) string {
	var stats []string
	for _, field := range fam.Fields {
		c := "b." + field.Column
		stats = append(stats,
			fmt.Sprintf("ROUND(AVG(%s), %d)", c, field.Scale),
			fmt.Sprintf("MAX(%s)", c),
			fmt.Sprintf("MIN(%s)", c),
			fmt.Sprintf(`(ARRAY_AGG(%s ORDER BY b."timestamp" DESC, b.id DESC) FILTER (WHERE %s IS NOT NULL))[1]`, c, c),
		)
	}

	return fmt.Sprintf(`INSERT INTO %[1]s (%[2]s)
SELECT b.id_cliente, b.id_equipamento, b.bucket, b.bucket + $4::int * INTERVAL '1 hour',
	%[3]s,
	COUNT(*), now(), now()
FROM (
	SELECT r.*, date_trunc($2, r."timestamp" AT TIME ZONE $3) AT TIME ZONE $3 AS bucket
	FROM %[4]s r
	WHERE r.id = ANY($1)
) b
GROUP BY b.id_cliente, b.id_equipamento, b.bucket
ON CONFLICT (id_cliente, id_equipamento, periodo_inicio) DO UPDATE SET %[5]s`,
		db.RollupTable,
		strings.Join(upsertColumns(fam), ", "),
		strings.Join(stats, ",\n\t"),
		fam.Table,
		conflictSet(fam))
}

// rollupScanner collects scan targets for one row of RollupColumns
type rollupScanner struct {
	r     db.Rollup
	stats []decimal.NullDecimal
	dest  []any
}

func newRollupScanner() *rollupScanner {
	s := &rollupScanner{stats: make([]decimal.NullDecimal, len(quantity.StatColumns()))}
	s.dest = []any{&s.r.ID, &s.r.ClientID, &s.r.EquipmentID, &s.r.PeriodStart, &s.r.PeriodEnd}
	for i := range s.stats {
		s.dest = append(s.dest, &s.stats[i])
	}
	s.dest = append(s.dest, &s.r.RowCount, &s.r.CreatedAt, &s.r.UpdatedAt)
	return s
}

// scan reads one row using the driver's Scan and returns a detached Rollup
func (s *rollupScanner) scan(scan func(dest ...any) error) (db.Rollup, error) {
	s.r = db.Rollup{}
	for i := range s.stats {
		s.stats[i] = decimal.NullDecimal{}
	}
	if err := scan(s.dest...); err != nil {
		return db.Rollup{}, fmt.Errorf("failed to scan rollup: %w", err)
	}

	out := s.r
	out.Stats = make(map[string]db.Stats)
	for i, field := range quantity.AllFields() {
		st := db.Stats{
			Mean: s.stats[i*4],
			Max:  s.stats[i*4+1],
			Min:  s.stats[i*4+2],
			Last: s.stats[i*4+3],
		}
		if st.Mean.Valid || st.Max.Valid || st.Min.Valid || st.Last.Valid {
			out.Stats[field.Name] = st
		}
	}
	return out, nil
}

func summarySQL(w *where) string {
	return fmt.Sprintf("SELECT COUNT(*), AVG(%s), MAX(%s), AVG(%s) FROM %s%s",
		quantity.Field{Name: quantity.TemperatureField}.MeanColumn(),
		quantity.Field{Name: quantity.TemperatureField}.MaxColumn(),
		quantity.Field{Name: quantity.BrunidoresCurrentField}.MeanColumn(),
		db.RollupTable, w)
}

// latestSQL selects a timestamp column of the newest row so drivers keep its declared type
func latestSQL(col string, w *where) string {
	return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT 1", col, db.RollupTable, w, col)
}

func distinctSQL(col string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s", col, db.RollupTable, col)
}

func applicationTables() []string {
	return append(quantity.Tables(), db.RollupTable)
}

func readingArgs(fam quantity.Family, reading *db.Reading, utc bool) ([]any, error) {
	if len(reading.Values) != len(fam.Fields) {
		return nil, fmt.Errorf("reading has %d values, %s expects %d", len(reading.Values), fam.Name, len(fam.Fields))
	}
	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if utc {
		ts = ts.UTC()
	}

	args := []any{reading.ClientID, reading.EquipmentID}
	for i, field := range fam.Fields {
		if reading.Values[i] == nil && !field.Nullable {
			return nil, fmt.Errorf("%s is required", field.Column)
		}
		args = append(args, reading.Values[i])
	}
	return append(args, reading.Aggregated, ts), nil
}
