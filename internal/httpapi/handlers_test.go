package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/quantity"
	"github.com/septivank/sensor-rollup/internal/report"
	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/septivank/sensor-rollup/internal/rollup"
	"github.com/septivank/sensor-rollup/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeRunner struct {
	calls   []rollup.Period
	trigger service.Trigger
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, period rollup.Period, trigger service.Trigger, requestID string) (*rollup.Report, error) {
	f.calls = append(f.calls, period)
	f.trigger = trigger
	return &rollup.Report{RunID: "run-1"}, f.err
}

func setup(t *testing.T) (*gin.Engine, *repository.SQLite, *fakeRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "http.db"), true)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	repo := repository.NewSQLite(conn)
	reports := report.NewService(repo, report.Options{Location: time.UTC}, zap.NewNop())
	runner := &fakeRunner{}
	h := NewHandler(reports, runner, nil, zap.NewNop())
	return NewRouter(h, zap.NewNop(), []string{"*"}), repo, runner
}

func seedTemperature(t *testing.T, repo *repository.SQLite, client string, start time.Time, value string) {
	t.Helper()
	fam, _ := quantity.ByName("temperature")
	d := decimal.NullDecimal{Decimal: decimal.RequireFromString(value), Valid: true}
	err := repo.UpsertFamily(context.Background(), fam, []db.FamilyRollup{{
		Key:       db.RollupKey{ClientID: client, EquipmentID: "descascador_3", PeriodStart: start},
		PeriodEnd: start.Add(time.Hour),
		Stats:     []db.Stats{{Mean: d, Max: d, Min: d, Last: d}},
		RowCount:  1,
	}})
	if err != nil {
		t.Fatal(err)
	}
}

func do(r http.Handler, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndRootRedirect(t *testing.T) {
	r, _, _ := setup(t)

	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"OK"`) {
		t.Errorf("health = %d %s", w.Code, w.Body)
	}
	if w.Header().Get(headerRequestID) == "" {
		t.Error("response should carry a request id")
	}

	w = do(r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusMovedPermanently || w.Header().Get("Location") != "/leituras/" {
		t.Errorf("root = %d -> %s", w.Code, w.Header().Get("Location"))
	}
}

func TestListRollups(t *testing.T) {
	r, repo, _ := setup(t)
	base := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	seedTemperature(t, repo, "c1", base, "20")
	seedTemperature(t, repo, "c2", base.Add(time.Hour), "21")

	w := do(r, http.MethodGet, "/leituras/?id_cliente=c1&id_equipamento=descascador_3&data_inicio=bad", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	var body struct {
		Rows    []map[string]any `json:"leituras"`
		Total   int              `json:"total_leituras"`
		Clients []string         `json:"clientes"`
		Visible map[string]bool  `json:"colunas_visiveis"`
		Name    *string          `json:"nome_equipamento"`
		Filters map[string]string `json:"filters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	if body.Total != 1 || len(body.Rows) != 1 {
		t.Fatalf("total/rows = %d/%d, want 1/1", body.Total, len(body.Rows))
	}
	if got := body.Rows[0]["temperatura_media"]; got != 20.0 {
		t.Errorf("temperatura_media = %v", got)
	}
	if body.Rows[0]["umidade_media"] != nil {
		t.Errorf("umidade_media = %v, want null", body.Rows[0]["umidade_media"])
	}
	if len(body.Clients) != 2 {
		t.Errorf("clients = %v", body.Clients)
	}
	if !body.Visible["temperatura"] {
		t.Errorf("visible = %v", body.Visible)
	}
	if body.Name == nil || *body.Name != "Descascador 03" {
		t.Errorf("nome_equipamento = %v", body.Name)
	}
	if body.Filters["id_cliente"] != "c1" {
		t.Errorf("filters = %v", body.Filters)
	}
}

func TestAggregateRedirectsWithFilters(t *testing.T) {
	r, _, runner := setup(t)

	form := url.Values{"id_cliente": {"c1"}, "data_inicio": {"2024-03-01"}, "id_equipamento": {""}}
	w := do(r, http.MethodPost, "/leituras/agregar-leituras/", form.Encode(), nil)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if got := w.Header().Get("Location"); got != "/leituras/?data_inicio=2024-03-01&id_cliente=c1" {
		t.Errorf("Location = %s", got)
	}
	if len(runner.calls) != 1 || runner.calls[0] != rollup.Hour || runner.trigger != service.TriggerDashboard {
		t.Errorf("runner calls = %v trigger %s", runner.calls, runner.trigger)
	}
}

func TestAggregateFailure(t *testing.T) {
	r, _, runner := setup(t)
	runner.err = errors.New("store unreachable")

	w := do(r, http.MethodPost, "/leituras/agregar-leituras/", "x=1", nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestAggregateGetRedirectsToReferer(t *testing.T) {
	r, _, runner := setup(t)

	w := do(r, http.MethodGet, "/leituras/agregar-leituras/?id_cliente=c1", "",
		map[string]string{"Referer": "http://localhost:8000/leituras/?old=1"})

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "http://localhost:8000/leituras/?id_cliente=c1" {
		t.Errorf("Location = %s", got)
	}
	if len(runner.calls) != 0 {
		t.Error("GET must not run an aggregation")
	}

	w = do(r, http.MethodGet, "/leituras/agregar-leituras/", "", nil)
	if got := w.Header().Get("Location"); got != "/leituras/" {
		t.Errorf("Location without referer = %s", got)
	}
}

func TestExportCSV(t *testing.T) {
	r, repo, _ := setup(t)
	seedTemperature(t, repo, "c1", time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), "20")

	w := do(r, http.MethodGet, "/leituras/exportar-leituras/", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %s", ct)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.HasPrefix(cd, `attachment; filename="dados_agregados_`) || !strings.HasSuffix(cd, `.csv"`) {
		t.Errorf("Content-Disposition = %s", cd)
	}
	if !strings.HasPrefix(w.Body.String(), "\ufeffid;id_cliente;") {
		t.Errorf("body = %.40q", w.Body.String())
	}
}

func TestChartEndpoints(t *testing.T) {
	r, repo, _ := setup(t)
	seedTemperature(t, repo, "c1", time.Now().Add(-2*time.Hour).Truncate(time.Hour), "22.5")

	w := do(r, http.MethodGet, "/api/chart-data/?range=7d", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chart-data status = %d", w.Code)
	}
	var series struct {
		Success     bool      `json:"success"`
		Labels      []string  `json:"labels"`
		Temperature []float64 `json:"temperatura_media"`
		Brunidores  []float64 `json:"corrente_brunidores"`
		Count       int       `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &series); err != nil {
		t.Fatal(err)
	}
	if !series.Success || series.Count != 1 || series.Temperature[0] != 22.5 || series.Brunidores[0] != 0 {
		t.Errorf("series = %+v", series)
	}

	w = do(r, http.MethodGet, "/api/chart-summary/?range=bogus", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chart-summary status = %d", w.Code)
	}
	var sum map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum["success"] != true || sum["total_registros"] != 1.0 || sum["corrente_brunidores_media"] != 0.0 {
		t.Errorf("summary = %v", sum)
	}
	if sum["data_atualizacao"] == nil {
		t.Error("data_atualizacao should be set")
	}
}

func TestDashboardEndpoint(t *testing.T) {
	r, repo, _ := setup(t)

	w := do(r, http.MethodGet, "/dashboard/", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ultima_leitura":null`) {
		t.Errorf("empty dashboard = %d %s", w.Code, w.Body)
	}

	seedTemperature(t, repo, "c1", time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), "20")
	w = do(r, http.MethodGet, "/dashboard/?id_cliente=c1", "", nil)
	if !strings.Contains(w.Body.String(), `"total_leituras":1`) {
		t.Errorf("dashboard = %s", w.Body)
	}
}
