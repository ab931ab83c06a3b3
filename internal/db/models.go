package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reading is one raw row of a quantity family table.
// Values are aligned with the family's Fields; a nil entry is a missing measurement.
type Reading struct {
	ID          int64
	ClientID    string
	EquipmentID string
	Values      []*float64
	Aggregated  bool
	Timestamp   time.Time
}

// RollupKey is the natural key of a rollup row
type RollupKey struct {
	ClientID    string
	EquipmentID string
	PeriodStart time.Time
}

// Stats holds the reduction of one field within a bucket
type Stats struct {
	Mean decimal.NullDecimal
	Max  decimal.NullDecimal
	Min  decimal.NullDecimal
	Last decimal.NullDecimal
}

// Valid reports whether the field had at least one sample in the bucket.
func (s Stats) Valid() bool {
	return s.Mean.Valid
}

// FamilyRollup is the contribution of one quantity family to a rollup row
type FamilyRollup struct {
	Key       RollupKey
	PeriodEnd time.Time
	// Stats is aligned with the family's Fields
	Stats    []Stats
	RowCount int
}

// Rollup represents a row of the aggregated data table
type Rollup struct {
	ID          int64
	ClientID    string
	EquipmentID string
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Stats is keyed by field name; fields never aggregated for this key are absent.
	Stats     map[string]Stats
	RowCount  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field returns the statistics for a field, or zero (all null) Stats.
func (r *Rollup) Field(name string) Stats {
	if r.Stats == nil {
		return Stats{}
	}
	return r.Stats[name]
}

// TableCount is the number of rows in one table
type TableCount struct {
	Table string
	Rows  int64
}

// Summary aggregates rollups over a time range for the chart header
type Summary struct {
	Count           int64
	TemperatureMean decimal.NullDecimal
	TemperatureMax  decimal.NullDecimal
	BrunidoresMean  decimal.NullDecimal
	LastPeriodEnd   *time.Time
}
