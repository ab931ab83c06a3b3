package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/report"
	"github.com/septivank/sensor-rollup/internal/rollup"
	"github.com/septivank/sensor-rollup/internal/service"
	"github.com/septivank/sensor-rollup/tools/timeparser"
	"go.uber.org/zap"
)

// Reports answers read queries over the rollup table
type Reports interface {
	Location() *time.Location
	List(ctx context.Context, f report.Filters) (*report.Listing, error)
	ExportCSV(ctx context.Context, f report.Filters, w io.Writer) (int, error)
	ExportFilename(t time.Time) string
	ChartSeries(ctx context.Context, rng report.Range, clientID, equipmentID string) (*report.Series, error)
	ChartSummary(ctx context.Context, rng report.Range) (*report.ChartSummary, error)
	Dashboard(ctx context.Context, f report.Filters) (*report.Dashboard, error)
}

// Runner starts aggregation runs
type Runner interface {
	Run(ctx context.Context, period rollup.Period, trigger service.Trigger, requestID string) (*rollup.Report, error)
}

// Handler holds the HTTP handlers
type Handler struct {
	reports Reports
	runner  Runner
	live    http.Handler
	logger  *zap.Logger
}

// NewHandler creates the handlers. live may be nil to disable the websocket feed.
func NewHandler(reports Reports, runner Runner, live http.Handler, logger *zap.Logger) *Handler {
	return &Handler{reports: reports, runner: runner, live: live, logger: logger}
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// ListRollups GET /leituras/
func (h *Handler) ListRollups(c *gin.Context) {
	loc := h.reports.Location()
	filters := report.ParseFilters(c.Request.URL.Query(), loc)

	listing, err := h.reports.List(c.Request.Context(), filters)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	var equipmentName any
	if listing.EquipmentName != "" {
		equipmentName = listing.EquipmentName
	}

	c.JSON(http.StatusOK, gin.H{
		"leituras":           report.Rows(listing.Rollups, loc),
		"total_leituras":     listing.Total,
		"clientes":           nonNil(listing.Clients),
		"equipamentos":       nonNil(listing.Equipments),
		"ultima_atualizacao": isoOrNil(listing.LastUpdate, loc),
		"colunas_visiveis":   listing.VisibleColumns,
		"nome_equipamento":   equipmentName,
		"filters":            flatten(c.Request.URL.Query()),
	})
}

// Aggregate POST /leituras/agregar-leituras/ runs an hourly aggregation and
// redirects to the listing with the posted filters.
func (h *Handler) Aggregate(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	_, err := h.runner.Run(c.Request.Context(), rollup.Hour, service.TriggerDashboard, c.GetString(ctxRequestID))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	target := "/leituras/"
	if q := preservedFilters(c.Request.PostForm).Encode(); q != "" {
		target += "?" + q
	}
	c.Redirect(http.StatusFound, target)
}

// AggregateRedirect GET /leituras/agregar-leituras/ sends the browser back to
// where it came from, keeping the query string.
func (h *Handler) AggregateRedirect(c *gin.Context) {
	target := "/leituras/"
	if ref := c.GetHeader("Referer"); ref != "" {
		target, _, _ = strings.Cut(ref, "?")
	}
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}
	c.Redirect(http.StatusFound, target)
}

// ExportCSV GET /leituras/exportar-leituras/
func (h *Handler) ExportCSV(c *gin.Context) {
	filters := report.ParseFilters(c.Request.URL.Query(), h.reports.Location())

	var buf bytes.Buffer
	if _, err := h.reports.ExportCSV(c.Request.Context(), filters, &buf); err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, h.reports.ExportFilename(time.Now())))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Dashboard GET /dashboard/
func (h *Handler) Dashboard(c *gin.Context) {
	loc := h.reports.Location()
	filters := report.ParseFilters(c.Request.URL.Query(), loc)

	d, err := h.reports.Dashboard(c.Request.Context(), filters)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	var latest any
	if d.Latest != nil {
		latest = report.Rows([]db.Rollup{*d.Latest}, loc)[0]
	}

	c.JSON(http.StatusOK, gin.H{
		"total_leituras":    d.Total,
		"media_temperatura": d.TemperatureMean,
		"ultima_leitura":    latest,
		"leituras":          report.Rows(d.Recent, loc),
		"clientes":          nonNil(d.Clients),
		"equipamentos":      nonNil(d.Equipments),
		"filters":           flatten(c.Request.URL.Query()),
	})
}

// ChartData GET /api/chart-data/?range=7d|30d|90d&cliente=&equipamento=
func (h *Handler) ChartData(c *gin.Context) {
	series, err := h.reports.ChartSeries(c.Request.Context(),
		report.ParseRange(c.Query("range")), c.Query("cliente"), c.Query("equipamento"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"labels":              series.Labels,
		"temperatura_media":   series.Temperature,
		"corrente_brunidores": series.BrunidoresCurrent,
		"count":               series.Count,
	})
}

// ChartSummary GET /api/chart-summary/?range=7d|30d|90d
func (h *Handler) ChartSummary(c *gin.Context) {
	sum, err := h.reports.ChartSummary(c.Request.Context(), report.ParseRange(c.Query("range")))
	if err != nil {
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                   true,
		"total_registros":           sum.Total,
		"temperatura_media":         sum.TemperatureMean,
		"temperatura_maxima":        sum.TemperatureMax,
		"corrente_brunidores_media": sum.BrunidoresMean,
		"data_atualizacao":          sum.UpdatedAt,
	})
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// preservedFilters keeps the non-empty filter fields of a submitted form
func preservedFilters(form url.Values) url.Values {
	out := url.Values{}
	for _, key := range []string{report.ParamClient, report.ParamEquipment, report.ParamDateFrom, report.ParamDateTo} {
		if v := form.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	return out
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isoOrNil(t *time.Time, loc *time.Location) any {
	if t == nil {
		return nil
	}
	return t.In(loc).Format(timeparser.ISOLayout)
}
