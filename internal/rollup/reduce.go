package rollup

import (
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/shopspring/decimal"
)

// Sample is one measurement of a field within a bucket
type Sample struct {
	Value     *float64
	Timestamp time.Time
}

// Reduce computes mean, max, min and last-by-timestamp over the non-null samples.
// Results are rounded to scale decimal places, matching the rollup column type.
// When timestamps tie, the later sample in slice order wins.
func Reduce(samples []Sample, scale int32) db.Stats {
	var (
		sum, max, min, last decimal.Decimal
		lastAt              time.Time
		n                   int64
	)

	for _, s := range samples {
		if s.Value == nil {
			continue
		}
		v := decimal.NewFromFloat(*s.Value)
		if n == 0 {
			max, min, last, lastAt = v, v, v, s.Timestamp
		} else {
			if v.GreaterThan(max) {
				max = v
			}
			if v.LessThan(min) {
				min = v
			}
			if !s.Timestamp.Before(lastAt) {
				last, lastAt = v, s.Timestamp
			}
		}
		sum = sum.Add(v)
		n++
	}

	if n == 0 {
		return db.Stats{}
	}

	mean := sum.Div(decimal.NewFromInt(n))
	return db.Stats{
		Mean: valid(mean.Round(scale)),
		Max:  valid(max.Round(scale)),
		Min:  valid(min.Round(scale)),
		Last: valid(last.Round(scale)),
	}
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
