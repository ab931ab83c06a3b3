package rollup

import (
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
)

// Group is the set of readings sharing a (client, equipment, bucket) key
type Group struct {
	Key       db.RollupKey
	PeriodEnd time.Time
	Readings  []db.Reading
}

type groupKey struct {
	client    string
	equipment string
	start     int64
}

// GroupReadings buckets readings by client, equipment and period start.
// Groups are returned in order of first appearance.
func GroupReadings(readings []db.Reading, period Period, loc *time.Location) []Group {
	index := make(map[groupKey]int)
	var groups []Group

	for _, r := range readings {
		start, end := period.Bucket(r.Timestamp, loc)
		k := groupKey{client: r.ClientID, equipment: r.EquipmentID, start: start.UnixNano()}

		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{
				Key: db.RollupKey{
					ClientID:    r.ClientID,
					EquipmentID: r.EquipmentID,
					PeriodStart: start,
				},
				PeriodEnd: end,
			})
		}
		groups[i].Readings = append(groups[i].Readings, r)
	}

	return groups
}

// Fold reduces every field of the family over the group's readings.
// RowCount counts every reading, including those with null measurements.
func Fold(fam quantity.Family, g Group) db.FamilyRollup {
	out := db.FamilyRollup{
		Key:       g.Key,
		PeriodEnd: g.PeriodEnd,
		Stats:     make([]db.Stats, len(fam.Fields)),
		RowCount:  len(g.Readings),
	}

	samples := make([]Sample, len(g.Readings))
	for fi, field := range fam.Fields {
		for ri, r := range g.Readings {
			samples[ri] = Sample{Timestamp: r.Timestamp}
			if fi < len(r.Values) {
				samples[ri].Value = r.Values[fi]
			}
		}
		out.Stats[fi] = Reduce(samples, field.Scale)
	}

	return out
}
