package report

import (
	"net/url"
	"strings"
	"time"

	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/septivank/sensor-rollup/tools/timeparser"
)

// Query parameter names shared by the listing, export and refresh endpoints
const (
	ParamClient    = "id_cliente"
	ParamEquipment = "id_equipamento"
	ParamDateFrom  = "data_inicio"
	ParamDateTo    = "data_fim"
)

// Filters is the parsed dashboard filter set
type Filters struct {
	ClientID    string
	EquipmentID string
	// DateFrom is the start of the first selected day
	DateFrom *time.Time
	// DateTo is 23:59:59 of the last selected day
	DateTo *time.Time
}

// ParseFilters reads filters from query or form values.
// Dates that do not parse are dropped without error.
func ParseFilters(values url.Values, loc *time.Location) Filters {
	f := Filters{
		ClientID:    strings.TrimSpace(values.Get(ParamClient)),
		EquipmentID: strings.TrimSpace(values.Get(ParamEquipment)),
	}

	if raw := values.Get(ParamDateFrom); raw != "" {
		if day, err := timeparser.ParseDate(raw, loc); err == nil {
			start := timeparser.StartOfDay(day, loc)
			f.DateFrom = &start
		}
	}
	if raw := values.Get(ParamDateTo); raw != "" {
		if day, err := timeparser.ParseDate(raw, loc); err == nil {
			end := timeparser.EndOfDay(day, loc)
			f.DateTo = &end
		}
	}

	return f
}

// HasDateRange reports whether a date bound is set
func (f Filters) HasDateRange() bool {
	return f.DateFrom != nil || f.DateTo != nil
}

// Values encodes the filters back into query parameters, omitting empty ones
func (f Filters) Values() url.Values {
	v := url.Values{}
	if f.ClientID != "" {
		v.Set(ParamClient, f.ClientID)
	}
	if f.EquipmentID != "" {
		v.Set(ParamEquipment, f.EquipmentID)
	}
	if f.DateFrom != nil {
		v.Set(ParamDateFrom, f.DateFrom.Format(timeparser.DateLayout))
	}
	if f.DateTo != nil {
		v.Set(ParamDateTo, f.DateTo.Format(timeparser.DateLayout))
	}
	return v
}

func (f Filters) repositoryFilter() repository.Filter {
	return repository.Filter{
		ClientID:    f.ClientID,
		EquipmentID: f.EquipmentID,
		StartFrom:   f.DateFrom,
		StartTo:     f.DateTo,
	}
}

// Range is the look-back window of the chart endpoints
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"
)

// ParseRange returns the named range; empty or unknown input selects 30d
func ParseRange(s string) Range {
	switch r := Range(strings.TrimSpace(s)); r {
	case Range7d, Range30d, Range90d:
		return r
	default:
		return Range30d
	}
}

// Duration is the length of the window
func (r Range) Duration() time.Duration {
	switch r {
	case Range7d:
		return 7 * 24 * time.Hour
	case Range90d:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}
