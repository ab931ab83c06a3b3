package report

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/septivank/sensor-rollup/tools/timeparser"
	"github.com/shopspring/decimal"
)

type column struct {
	name  string
	scale int32
	value func(r *db.Rollup) any
}

// rollupColumns mirrors db.RollupColumns with an accessor per column
var rollupColumns = buildColumns()

func buildColumns() []column {
	cols := []column{
		{name: "id", value: func(r *db.Rollup) any { return r.ID }},
		{name: "id_cliente", value: func(r *db.Rollup) any { return r.ClientID }},
		{name: "id_equipamento", value: func(r *db.Rollup) any { return r.EquipmentID }},
		{name: "periodo_inicio", value: func(r *db.Rollup) any { return r.PeriodStart }},
		{name: "periodo_fim", value: func(r *db.Rollup) any { return r.PeriodEnd }},
	}

	for _, field := range quantity.AllFields() {
		name := field.Name
		stats := []struct {
			col string
			get func(s db.Stats) decimal.NullDecimal
		}{
			{field.MeanColumn(), func(s db.Stats) decimal.NullDecimal { return s.Mean }},
			{field.MaxColumn(), func(s db.Stats) decimal.NullDecimal { return s.Max }},
			{field.MinColumn(), func(s db.Stats) decimal.NullDecimal { return s.Min }},
			{field.LastColumn(), func(s db.Stats) decimal.NullDecimal { return s.Last }},
		}
		for _, st := range stats {
			get := st.get
			cols = append(cols, column{
				name:  st.col,
				scale: field.Scale,
				value: func(r *db.Rollup) any { return get(r.Field(name)) },
			})
		}
	}

	return append(cols,
		column{name: "registros_contagem", value: func(r *db.Rollup) any { return r.RowCount }},
		column{name: "created_at", value: func(r *db.Rollup) any { return r.CreatedAt }},
		column{name: "updated_at", value: func(r *db.Rollup) any { return r.UpdatedAt }},
	)
}

// Row is a rollup rendered for JSON, keyed by column name
type Row map[string]any

// Rows renders rollups for JSON. Decimals keep their column scale; nulls stay null.
func Rows(rollups []db.Rollup, loc *time.Location) []Row {
	rows := make([]Row, len(rollups))
	for i := range rollups {
		row := make(Row, len(rollupColumns))
		for _, c := range rollupColumns {
			switch v := c.value(&rollups[i]).(type) {
			case decimal.NullDecimal:
				if v.Valid {
					row[c.name] = json.Number(v.Decimal.StringFixed(c.scale))
				} else {
					row[c.name] = nil
				}
			case time.Time:
				row[c.name] = v.In(loc).Format(timeparser.ISOLayout)
			default:
				row[c.name] = v
			}
		}
		rows[i] = row
	}
	return rows
}

func csvCell(v any, scale int32, loc *time.Location) string {
	switch v := v.(type) {
	case decimal.NullDecimal:
		if !v.Valid {
			return ""
		}
		return v.Decimal.StringFixed(scale)
	case time.Time:
		return v.In(loc).Format(timeparser.DateTimeLayout)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return ""
	}
}

// VisibleColumns reports, per family key, whether any rollup has a mean for
// the family's first field. Every family key is present.
func VisibleColumns(rollups []db.Rollup) map[string]bool {
	visible := make(map[string]bool, len(quantity.Families))
	for _, fam := range quantity.Families {
		visible[fam.Key] = false
		probe := fam.Fields[0].Name
		for i := range rollups {
			if rollups[i].Field(probe).Mean.Valid {
				visible[fam.Key] = true
				break
			}
		}
	}
	return visible
}

// EquipmentName formats an equipment id for display: "descascador_3" becomes
// "Descascador 03". Ids without an underscore are returned unchanged.
func EquipmentName(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return id
	}

	kind := []rune(strings.ToLower(parts[0]))
	if len(kind) > 0 {
		kind[0] = unicode.ToUpper(kind[0])
	}

	number := parts[1]
	if len(number) < 2 {
		number = strings.Repeat("0", 2-len(number)) + number
	}

	return string(kind) + " " + number
}

func orZero(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}

func round2(d decimal.NullDecimal) decimal.NullDecimal {
	if d.Valid {
		d.Decimal = d.Decimal.Round(2)
	}
	return d
}
