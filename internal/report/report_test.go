package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *repository.SQLite) {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "report.db"), true)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	repo := repository.NewSQLite(conn)
	svc := NewService(repo, Options{PageSize: 24, ChartMaxPoints: 50, Location: time.UTC}, zap.NewNop())
	svc.now = func() time.Time { return base.Add(48 * time.Hour) }
	return svc, repo
}

func same(v string) db.Stats {
	d := decimal.NullDecimal{Decimal: decimal.RequireFromString(v), Valid: true}
	return db.Stats{Mean: d, Max: d, Min: d, Last: d}
}

func seed(t *testing.T, repo *repository.SQLite, famName, client, equipment string, start time.Time, values ...string) {
	t.Helper()
	fam, err := quantity.ByName(famName)
	if err != nil {
		t.Fatal(err)
	}
	fr := db.FamilyRollup{
		Key:       db.RollupKey{ClientID: client, EquipmentID: equipment, PeriodStart: start},
		PeriodEnd: start.Add(time.Hour),
		Stats:     make([]db.Stats, len(fam.Fields)),
		RowCount:  3,
	}
	for i, v := range values {
		if v != "" {
			fr.Stats[i] = same(v)
		}
	}
	if err := repo.UpsertFamily(context.Background(), fam, []db.FamilyRollup{fr}); err != nil {
		t.Fatalf("UpsertFamily failed: %v", err)
	}
}

func TestColumnsMatchSchema(t *testing.T) {
	want := db.RollupColumns()
	if len(rollupColumns) != len(want) {
		t.Fatalf("got %d columns, want %d", len(rollupColumns), len(want))
	}
	for i, c := range rollupColumns {
		if c.name != want[i] {
			t.Errorf("column %d = %s, want %s", i, c.name, want[i])
		}
	}
}

func TestParseFilters(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	values := url.Values{
		ParamClient:    {" c1 "},
		ParamEquipment: {"descascador_3"},
		ParamDateFrom:  {"2024-03-01"},
		ParamDateTo:    {"not-a-date"},
	}

	f := ParseFilters(values, loc)

	if f.ClientID != "c1" || f.EquipmentID != "descascador_3" {
		t.Errorf("ids = %q, %q", f.ClientID, f.EquipmentID)
	}
	if f.DateFrom == nil || !f.DateFrom.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("DateFrom = %v", f.DateFrom)
	}
	if f.DateTo != nil {
		t.Errorf("malformed DateTo should be dropped, got %v", f.DateTo)
	}

	encoded := f.Values()
	if encoded.Get(ParamDateFrom) != "2024-03-01" || encoded.Has(ParamDateTo) {
		t.Errorf("Values() = %v", encoded)
	}
}

func TestParseFiltersDateToEndOfDay(t *testing.T) {
	f := ParseFilters(url.Values{ParamDateTo: {"2024-03-14"}}, time.UTC)

	if f.DateTo == nil || !f.DateTo.Equal(time.Date(2024, 3, 14, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("DateTo = %v", f.DateTo)
	}
}

func TestParseRange(t *testing.T) {
	tests := map[string]Range{"7d": Range7d, "30d": Range30d, "90d": Range90d, "": Range30d, "1y": Range30d}
	for input, want := range tests {
		if got := ParseRange(input); got != want {
			t.Errorf("ParseRange(%q) = %s, want %s", input, got, want)
		}
	}
	if Range7d.Duration() != 168*time.Hour {
		t.Errorf("7d = %v", Range7d.Duration())
	}
}

func TestEquipmentName(t *testing.T) {
	tests := map[string]string{
		"descascador_3": "Descascador 03",
		"POLIDOR_12":    "Polidor 12",
		"brunidor_1_a":  "Brunidor 01",
		"misc":          "misc",
	}
	for input, want := range tests {
		if got := EquipmentName(input); got != want {
			t.Errorf("EquipmentName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestListLimitsOnlyWithoutDateFilter(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		seed(t, repo, "temperature", "c1", "e1", base.Add(time.Duration(i)*time.Hour), "20")
	}

	listing, err := svc.List(ctx, Filters{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listing.Rollups) != 24 || listing.Total != 30 {
		t.Errorf("rows/total = %d/%d, want 24/30", len(listing.Rollups), listing.Total)
	}
	if !listing.Rollups[0].PeriodStart.Equal(base.Add(29 * time.Hour)) {
		t.Errorf("first row = %v, want newest period", listing.Rollups[0].PeriodStart)
	}

	from := base
	listing, err = svc.List(ctx, Filters{DateFrom: &from})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Rollups) != 30 || listing.Total != 30 {
		t.Errorf("with date filter rows/total = %d/%d, want 30/30", len(listing.Rollups), listing.Total)
	}
	if len(listing.Clients) != 1 || listing.LastUpdate == nil {
		t.Errorf("clients = %v, last update = %v", listing.Clients, listing.LastUpdate)
	}
	if !listing.VisibleColumns["temperatura"] || listing.VisibleColumns["umidade"] {
		t.Errorf("visible = %v", listing.VisibleColumns)
	}
}

func TestListEquipmentName(t *testing.T) {
	svc, _ := newTestService(t)

	listing, err := svc.List(context.Background(), Filters{EquipmentID: "descascador_3"})
	if err != nil {
		t.Fatal(err)
	}
	if listing.EquipmentName != "Descascador 03" {
		t.Errorf("EquipmentName = %q", listing.EquipmentName)
	}
	if listing.Total != 0 || len(listing.Rollups) != 0 {
		t.Errorf("expected empty listing, got %d", listing.Total)
	}
}

func TestExportCSVRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)

	seed(t, repo, "temperature", "c1", "e1", base.Add(time.Hour), "21.5")
	seed(t, repo, "temperature", "c1", "e1", base, "20")
	seed(t, repo, "electrical-quantities", "c1", "e1", base, "220", "", "", "", "", "", "", "", "0.95")

	var buf bytes.Buffer
	n, err := svc.ExportCSV(context.Background(), Filters{}, &buf)
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d rows, want 2", n)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "\ufeff") {
		t.Fatal("export does not start with a BOM")
	}

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff")))
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("failed to read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2", len(records))
	}

	header := records[0]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if header[0] != "id" || len(header) != len(db.RollupColumns()) {
		t.Errorf("header = %v", header)
	}

	first, second := records[1], records[2]
	if got := first[index["temperatura_media"]]; got != "20.00" {
		t.Errorf("first temperatura_media = %q, want 20.00 (ascending order)", got)
	}
	if got := second[index["temperatura_media"]]; got != "21.50" {
		t.Errorf("second temperatura_media = %q", got)
	}
	if got := first[index["fator_potencia_media"]]; got != "0.9500" {
		t.Errorf("fator_potencia_media = %q, want 0.9500", got)
	}
	if got := first[index["tensao_s_media"]]; got != "" {
		t.Errorf("null cell = %q, want empty", got)
	}
	if got := first[index["periodo_inicio"]]; got != "2024-03-14 00:00:00+00:00" {
		t.Errorf("periodo_inicio = %q", got)
	}
}

func TestExportCSVEmptyStillWritesHeader(t *testing.T) {
	svc, _ := newTestService(t)

	var buf bytes.Buffer
	if _, err := svc.ExportCSV(context.Background(), Filters{}, &buf); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(buf.String(), "\ufeff")), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "id;id_cliente;") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestExportFilename(t *testing.T) {
	svc, _ := newTestService(t)

	got := svc.ExportFilename(time.Date(2024, 3, 14, 15, 4, 5, 0, time.UTC))
	if got != "dados_agregados_2024-03-14_15-04-05.csv" {
		t.Errorf("filename = %s", got)
	}
}

func TestChartSeriesDefaultsNullToZero(t *testing.T) {
	svc, repo := newTestService(t)

	seed(t, repo, "brunidores-current", "c1", "e1", base.Add(2*time.Hour), "4.25")
	seed(t, repo, "temperature", "c1", "e1", base.Add(time.Hour), "22")
	seed(t, repo, "temperature", "c1", "e1", base.AddDate(0, 0, -40), "99")

	series, err := svc.ChartSeries(context.Background(), Range30d, "", "")
	if err != nil {
		t.Fatalf("ChartSeries failed: %v", err)
	}

	if series.Count != 2 {
		t.Fatalf("Count = %d, want 2 (old rollup outside range)", series.Count)
	}
	if series.Labels[0] != "14/03 02:00" || series.Labels[1] != "14/03 03:00" {
		t.Errorf("labels = %v", series.Labels)
	}
	if series.Temperature[0] != 22 || series.Temperature[1] != 0 {
		t.Errorf("temperature = %v, want [22 0]", series.Temperature)
	}
	if series.BrunidoresCurrent[0] != 0 || series.BrunidoresCurrent[1] != 4.25 {
		t.Errorf("brunidores = %v, want [0 4.25]", series.BrunidoresCurrent)
	}
}

func TestChartSeriesCapsPoints(t *testing.T) {
	svc, repo := newTestService(t)
	svc.opts.ChartMaxPoints = 5

	for i := 0; i < 8; i++ {
		seed(t, repo, "temperature", "c1", "e1", base.Add(time.Duration(i)*time.Hour), "20")
	}

	series, err := svc.ChartSeries(context.Background(), Range7d, "c1", "e1")
	if err != nil {
		t.Fatal(err)
	}
	if series.Count != 5 || series.Labels[0] != "14/03 01:00" {
		t.Errorf("count = %d, labels = %v", series.Count, series.Labels)
	}
}

func TestChartSummary(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	empty, err := svc.ChartSummary(ctx, Range30d)
	if err != nil {
		t.Fatalf("ChartSummary failed: %v", err)
	}
	if empty.Total != 0 || empty.TemperatureMean != 0 || empty.TemperatureMax != 0 || empty.UpdatedAt != nil {
		t.Errorf("empty summary = %+v", empty)
	}

	seed(t, repo, "temperature", "c1", "e1", base, "20")
	seed(t, repo, "temperature", "c1", "e2", base.Add(time.Hour), "21.34")

	sum, err := svc.ChartSummary(ctx, Range30d)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 2 {
		t.Errorf("Total = %d", sum.Total)
	}
	if sum.TemperatureMean != 20.67 {
		t.Errorf("TemperatureMean = %v, want 20.67", sum.TemperatureMean)
	}
	if sum.BrunidoresMean != 0 {
		t.Errorf("BrunidoresMean = %v, want 0", sum.BrunidoresMean)
	}
	if sum.UpdatedAt == nil || *sum.UpdatedAt != "2024-03-14T02:00:00+00:00" {
		t.Errorf("UpdatedAt = %v", sum.UpdatedAt)
	}
}

func TestDashboard(t *testing.T) {
	svc, repo := newTestService(t)

	seed(t, repo, "temperature", "c1", "e1", base, "20")
	seed(t, repo, "temperature", "c1", "e1", base.Add(23*time.Hour), "30")

	to := time.Date(2024, 3, 14, 23, 59, 59, 0, time.UTC)
	d, err := svc.Dashboard(context.Background(), Filters{DateTo: &to})
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}

	// the 23:00 bucket ends at midnight of the next day and falls outside
	if d.Total != 1 || len(d.Recent) != 1 {
		t.Errorf("total/recent = %d/%d, want 1/1", d.Total, len(d.Recent))
	}
	if d.TemperatureMean == nil || *d.TemperatureMean != 20 {
		t.Errorf("TemperatureMean = %v", d.TemperatureMean)
	}
	if d.Latest == nil {
		t.Error("Latest should be set")
	}
}
