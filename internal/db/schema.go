package db

import (
	"fmt"
	"strings"

	"github.com/septivank/sensor-rollup/internal/quantity"
)

// RollupTable is the wide table holding aggregated statistics
const RollupTable = "dados_agregados"

// Dialect selects SQL syntax differences between the supported stores
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

type columnTypes struct {
	id        string
	text      string
	decimal   func(scale int32) string
	boolean   string
	timestamp string
	integer   string
	now       string
}

func (d Dialect) types() columnTypes {
	if d == Postgres {
		return columnTypes{
			id:        "BIGSERIAL PRIMARY KEY",
			text:      "VARCHAR(255)",
			decimal:   func(scale int32) string { return fmt.Sprintf("NUMERIC(10,%d)", scale) },
			boolean:   "BOOLEAN",
			timestamp: "TIMESTAMPTZ",
			integer:   "INTEGER",
			now:       "now()",
		}
	}
	return columnTypes{
		id:        "INTEGER PRIMARY KEY AUTOINCREMENT",
		text:      "TEXT",
		decimal:   func(int32) string { return "REAL" },
		boolean:   "BOOLEAN",
		timestamp: "DATETIME",
		integer:   "INTEGER",
		now:       "CURRENT_TIMESTAMP",
	}
}

// Schema returns the DDL statements creating every table and index if missing.
func Schema(d Dialect) []string {
	t := d.types()
	var stmts []string

	for _, fam := range quantity.Families {
		var b strings.Builder
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", fam.Table)
		fmt.Fprintf(&b, "\tid %s,\n", t.id)
		fmt.Fprintf(&b, "\tid_cliente %s NOT NULL,\n", t.text)
		fmt.Fprintf(&b, "\tid_equipamento %s NOT NULL,\n", t.text)
		for _, f := range fam.Fields {
			null := "NOT NULL"
			if f.Nullable {
				null = "NULL"
			}
			fmt.Fprintf(&b, "\t%s %s %s,\n", f.Column, t.decimal(f.Scale), null)
		}
		fmt.Fprintf(&b, "\tagregado %s NOT NULL DEFAULT FALSE,\n", t.boolean)
		fmt.Fprintf(&b, "\t\"timestamp\" %s NOT NULL DEFAULT %s\n)", t.timestamp, defaultNow(d, t))
		stmts = append(stmts, b.String())
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_cli_eq_ts_idx ON %s (id_cliente, id_equipamento, \"timestamp\")",
			fam.Table, fam.Table))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", RollupTable)
	fmt.Fprintf(&b, "\tid %s,\n", t.id)
	fmt.Fprintf(&b, "\tid_cliente %s NOT NULL,\n", t.text)
	fmt.Fprintf(&b, "\tid_equipamento %s NOT NULL,\n", t.text)
	fmt.Fprintf(&b, "\tperiodo_inicio %s NOT NULL,\n", t.timestamp)
	fmt.Fprintf(&b, "\tperiodo_fim %s NOT NULL,\n", t.timestamp)
	for _, f := range quantity.AllFields() {
		for _, col := range f.StatColumns() {
			fmt.Fprintf(&b, "\t%s %s NULL,\n", col, t.decimal(f.Scale))
		}
	}
	fmt.Fprintf(&b, "\tregistros_contagem %s NOT NULL,\n", t.integer)
	fmt.Fprintf(&b, "\tcreated_at %s NOT NULL,\n", t.timestamp)
	fmt.Fprintf(&b, "\tupdated_at %s NOT NULL,\n", t.timestamp)
	b.WriteString("\tUNIQUE (id_cliente, id_equipamento, periodo_inicio)\n)")
	stmts = append(stmts, b.String())

	for _, col := range []string{"id_cliente", "id_equipamento", "periodo_fim"} {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)",
			RollupTable, col, RollupTable, col))
	}

	return stmts
}

func defaultNow(d Dialect, t columnTypes) string {
	if d == SQLite {
		return t.now
	}
	return "(" + t.now + ")"
}

// RollupColumns returns every column of the rollup table in declaration order.
func RollupColumns() []string {
	cols := []string{"id", "id_cliente", "id_equipamento", "periodo_inicio", "periodo_fim"}
	cols = append(cols, quantity.StatColumns()...)
	return append(cols, "registros_contagem", "created_at", "updated_at")
}
