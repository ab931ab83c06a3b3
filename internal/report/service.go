package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/septivank/sensor-rollup/tools/timeparser"
	"go.uber.org/zap"
)

// utf8BOM lets spreadsheet tools detect the export encoding
const utf8BOM = "\ufeff"

// dashboardRecent is the number of rollups shown on the summary dashboard
const dashboardRecent = 10

// Store is the read side of the rollup table
type Store interface {
	ListRollups(ctx context.Context, opts repository.ListOptions) ([]db.Rollup, error)
	CountRollups(ctx context.Context, f repository.Filter) (int64, error)
	DistinctClients(ctx context.Context) ([]string, error)
	DistinctEquipments(ctx context.Context) ([]string, error)
	LastUpdatedAt(ctx context.Context) (*time.Time, error)
	Summary(ctx context.Context, f repository.Filter) (*db.Summary, error)
}

// Options configures a Service
type Options struct {
	PageSize       int
	ChartMaxPoints int
	Location       *time.Location
}

// Service answers dashboard, export and chart queries from the rollup table
type Service struct {
	store  Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new report service
func NewService(store Store, opts Options, logger *zap.Logger) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 24
	}
	if opts.ChartMaxPoints <= 0 {
		opts.ChartMaxPoints = 50
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{store: store, opts: opts, logger: logger, now: time.Now}
}

// Location is the time zone used for filters and rendering
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Listing is the dashboard table page
type Listing struct {
	Rollups []db.Rollup
	// Total counts every matching rollup, ignoring the page limit
	Total          int64
	Clients        []string
	Equipments     []string
	LastUpdate     *time.Time
	VisibleColumns map[string]bool
	// EquipmentName is set when an equipment filter is active
	EquipmentName string
	Filters       Filters
}

// List returns rollups matching f, newest period first. Without a date filter
// the page is limited to the configured page size.
func (s *Service) List(ctx context.Context, f Filters) (*Listing, error) {
	rf := f.repositoryFilter()

	total, err := s.store.CountRollups(ctx, rf)
	if err != nil {
		return nil, err
	}

	opts := repository.ListOptions{Filter: rf, OrderBy: repository.OrderByPeriodStart}
	if !f.HasDateRange() {
		opts.Limit = s.opts.PageSize
	}
	rollups, err := s.store.ListRollups(ctx, opts)
	if err != nil {
		return nil, err
	}

	clients, err := s.store.DistinctClients(ctx)
	if err != nil {
		return nil, err
	}
	equipments, err := s.store.DistinctEquipments(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastUpdatedAt(ctx)
	if err != nil {
		return nil, err
	}

	listing := &Listing{
		Rollups:        rollups,
		Total:          total,
		Clients:        clients,
		Equipments:     equipments,
		LastUpdate:     last,
		VisibleColumns: VisibleColumns(rollups),
		Filters:        f,
	}
	if f.EquipmentID != "" {
		listing.EquipmentName = EquipmentName(f.EquipmentID)
	}

	return listing, nil
}

// ExportCSV writes every rollup matching f, oldest period first, as a
// semicolon separated file with a UTF-8 BOM. It returns the number of data rows.
func (s *Service) ExportCSV(ctx context.Context, f Filters, w io.Writer) (int, error) {
	rollups, err := s.store.ListRollups(ctx, repository.ListOptions{
		Filter:    f.repositoryFilter(),
		OrderBy:   repository.OrderByPeriodStart,
		Ascending: true,
	})
	if err != nil {
		return 0, err
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return 0, fmt.Errorf("failed to write csv: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'

	header := make([]string, len(rollupColumns))
	for i, c := range rollupColumns {
		header[i] = c.name
	}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(rollupColumns))
	for i := range rollups {
		for j, c := range rollupColumns {
			record[j] = csvCell(c.value(&rollups[i]), c.scale, s.opts.Location)
		}
		if err := cw.Write(record); err != nil {
			return i, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(rollups), fmt.Errorf("failed to flush csv: %w", err)
	}

	s.logger.Debug("rollups exported", zap.Int("rows", len(rollups)))
	return len(rollups), nil
}

// ExportFilename names an export taken at t
func (s *Service) ExportFilename(t time.Time) string {
	return fmt.Sprintf("dados_agregados_%s.csv", t.In(s.opts.Location).Format(timeparser.FileStamp))
}

// Series is the chart payload. Null statistics are reported as 0.
type Series struct {
	Labels            []string  `json:"labels"`
	Temperature       []float64 `json:"temperatura_media"`
	BrunidoresCurrent []float64 `json:"corrente_brunidores"`
	Count             int       `json:"count"`
}

// ChartSeries returns at most ChartMaxPoints rollups whose period ended within
// the range, oldest first.
func (s *Service) ChartSeries(ctx context.Context, rng Range, clientID, equipmentID string) (*Series, error) {
	since := s.now().Add(-rng.Duration())
	rollups, err := s.store.ListRollups(ctx, repository.ListOptions{
		Filter: repository.Filter{
			ClientID:    clientID,
			EquipmentID: equipmentID,
			EndFrom:     &since,
		},
		OrderBy:   repository.OrderByPeriodEnd,
		Ascending: true,
		Limit:     s.opts.ChartMaxPoints,
	})
	if err != nil {
		return nil, err
	}

	series := &Series{
		Labels:            make([]string, len(rollups)),
		Temperature:       make([]float64, len(rollups)),
		BrunidoresCurrent: make([]float64, len(rollups)),
		Count:             len(rollups),
	}
	for i := range rollups {
		r := &rollups[i]
		series.Labels[i] = r.PeriodEnd.In(s.opts.Location).Format(timeparser.ChartLabel)
		series.Temperature[i] = orZero(r.Field(quantity.TemperatureField).Mean)
		series.BrunidoresCurrent[i] = orZero(r.Field(quantity.BrunidoresCurrentField).Mean)
	}

	return series, nil
}

// ChartSummary aggregates the rollups whose period ended within the range.
type ChartSummary struct {
	Total           int64   `json:"total_registros"`
	TemperatureMean float64 `json:"temperatura_media"`
	TemperatureMax  float64 `json:"temperatura_maxima"`
	BrunidoresMean  float64 `json:"corrente_brunidores_media"`
	// UpdatedAt is the latest period end, or nil without rollups
	UpdatedAt *string `json:"data_atualizacao"`
}

// ChartSummary returns totals and means over the range. Null aggregates are 0.
func (s *Service) ChartSummary(ctx context.Context, rng Range) (*ChartSummary, error) {
	since := s.now().Add(-rng.Duration())
	sum, err := s.store.Summary(ctx, repository.Filter{EndFrom: &since})
	if err != nil {
		return nil, err
	}

	out := &ChartSummary{
		Total:           sum.Count,
		TemperatureMean: orZero(round2(sum.TemperatureMean)),
		TemperatureMax:  orZero(sum.TemperatureMax),
		BrunidoresMean:  orZero(round2(sum.BrunidoresMean)),
	}
	if sum.LastPeriodEnd != nil {
		iso := sum.LastPeriodEnd.In(s.opts.Location).Format(timeparser.ISOLayout)
		out.UpdatedAt = &iso
	}

	return out, nil
}

// Dashboard is the summary page: cards plus the most recent rollups
type Dashboard struct {
	Total           int64
	TemperatureMean *float64
	Latest          *db.Rollup
	Recent          []db.Rollup
	Clients         []string
	Equipments      []string
	Filters         Filters
}

// Dashboard summarizes rollups matching f. The end date bounds periodo_fim,
// exclusive of the following day.
func (s *Service) Dashboard(ctx context.Context, f Filters) (*Dashboard, error) {
	rf := repository.Filter{
		ClientID:    f.ClientID,
		EquipmentID: f.EquipmentID,
		StartFrom:   f.DateFrom,
	}
	if f.DateTo != nil {
		next := timeparser.StartOfDay(*f.DateTo, s.opts.Location).AddDate(0, 0, 1)
		rf.EndBefore = &next
	}

	sum, err := s.store.Summary(ctx, rf)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListRollups(ctx, repository.ListOptions{
		Filter:  rf,
		OrderBy: repository.OrderByPeriodEnd,
		Limit:   dashboardRecent,
	})
	if err != nil {
		return nil, err
	}
	latest, err := s.store.ListRollups(ctx, repository.ListOptions{
		Filter:  rf,
		OrderBy: repository.OrderByUpdatedAt,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	clients, err := s.store.DistinctClients(ctx)
	if err != nil {
		return nil, err
	}
	equipments, err := s.store.DistinctEquipments(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		Total:      sum.Count,
		Recent:     recent,
		Clients:    clients,
		Equipments: equipments,
		Filters:    f,
	}
	if sum.TemperatureMean.Valid {
		v := sum.TemperatureMean.Decimal.InexactFloat64()
		d.TemperatureMean = &v
	}
	if len(latest) > 0 {
		d.Latest = &latest[0]
	}

	return d, nil
}
