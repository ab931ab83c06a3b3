package quantity

import "fmt"

// Statistic suffixes appended to a field name to form rollup column names.
const (
	SuffixMean = "_media"
	SuffixMax  = "_max"
	SuffixMin  = "_min"
	SuffixLast = "_ultima"
)

// Field is one measured value of a quantity family.
type Field struct {
	// Name is the rollup column prefix, e.g. "corrente_brunidores".
	Name string
	// Column is the value column in the raw table.
	Column string
	// Scale is the number of decimal places stored for this field.
	Scale int32
	// Nullable raw fields may be missing from a reading.
	Nullable bool
}

// MeanColumn returns the rollup column holding the field mean.
func (f Field) MeanColumn() string { return f.Name + SuffixMean }

// MaxColumn returns the rollup column holding the field maximum.
func (f Field) MaxColumn() string { return f.Name + SuffixMax }

// MinColumn returns the rollup column holding the field minimum.
func (f Field) MinColumn() string { return f.Name + SuffixMin }

// LastColumn returns the rollup column holding the last value in the bucket.
func (f Field) LastColumn() string { return f.Name + SuffixLast }

// StatColumns returns the four rollup columns in mean, max, min, last order.
func (f Field) StatColumns() []string {
	return []string{f.MeanColumn(), f.MaxColumn(), f.MinColumn(), f.LastColumn()}
}

// Family is one raw reading table and the fields it carries.
type Family struct {
	Name  string
	Table string
	// Key is the short label the dashboard uses for the family's column group.
	Key    string
	Fields []Field
}

// Columns returns the raw value columns of the family.
func (f Family) Columns() []string {
	cols := make([]string, len(f.Fields))
	for i, field := range f.Fields {
		cols[i] = field.Column
	}
	return cols
}

// RollupColumns returns the rollup columns written by this family.
func (f Family) RollupColumns() []string {
	cols := make([]string, 0, len(f.Fields)*4)
	for _, field := range f.Fields {
		cols = append(cols, field.StatColumns()...)
	}
	return cols
}

func currentFamily(name, table, key string) Family {
	return Family{
		Name:   name,
		Table:  table,
		Key:    key,
		Fields: []Field{{Name: table, Column: "corrente", Scale: 2}},
	}
}

func electricalField(name string, scale int32) Field {
	return Field{Name: name, Column: name, Scale: scale, Nullable: true}
}

// Families lists every quantity family in rollup declaration order.
var Families = []Family{
	currentFamily("brunidores-current", "corrente_brunidores", "brunidores"),
	currentFamily("descascadores-current", "corrente_descascadores", "descascadores"),
	currentFamily("polidores-current", "corrente_polidores", "polidores"),
	{
		Name:   "temperature",
		Table:  "temperaturas",
		Key:    "temperatura",
		Fields: []Field{{Name: "temperatura", Column: "temperatura", Scale: 2}},
	},
	{
		Name:   "humidity",
		Table:  "umidades",
		Key:    "umidade",
		Fields: []Field{{Name: "umidade", Column: "umidade", Scale: 2}},
	},
	{
		Name:  "electrical-quantities",
		Table: "grandezas_eletricas",
		Key:   "grandezas_eletricas",
		Fields: []Field{
			electricalField("tensao_r", 2),
			electricalField("tensao_s", 2),
			electricalField("tensao_t", 2),
			electricalField("corrente_r", 2),
			electricalField("corrente_s", 2),
			electricalField("corrente_t", 2),
			electricalField("potencia_ativa", 2),
			electricalField("potencia_reativa", 2),
			electricalField("fator_potencia", 4),
		},
	},
}

// Well-known fields used by the chart endpoints.
const (
	TemperatureField       = "temperatura"
	BrunidoresCurrentField = "corrente_brunidores"
)

// ByName looks up a family by its name.
func ByName(name string) (Family, error) {
	for _, f := range Families {
		if f.Name == name {
			return f, nil
		}
	}
	return Family{}, fmt.Errorf("unknown quantity family %q", name)
}

// AllFields returns every rollup field in declaration order.
func AllFields() []Field {
	var fields []Field
	for _, fam := range Families {
		fields = append(fields, fam.Fields...)
	}
	return fields
}

// FieldByName looks up a rollup field by its column prefix.
func FieldByName(name string) (Field, bool) {
	for _, f := range AllFields() {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// StatColumns returns all statistic columns of the rollup table in declaration order.
func StatColumns() []string {
	var cols []string
	for _, f := range AllFields() {
		cols = append(cols, f.StatColumns()...)
	}
	return cols
}

// Tables returns the raw table names in declaration order.
func Tables() []string {
	tables := make([]string, len(Families))
	for i, f := range Families {
		tables[i] = f.Table
	}
	return tables
}
