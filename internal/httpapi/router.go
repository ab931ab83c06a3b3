package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler, logger *zap.Logger, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(logger), recovery(logger))

	config := cors.DefaultConfig()
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", headerRequestID}
	config.ExposeHeaders = []string{"Content-Disposition", headerRequestID}
	r.Use(cors.New(config))

	r.GET("/health", h.Health)
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/leituras/")
	})

	leituras := r.Group("/leituras")
	{
		leituras.GET("/", h.ListRollups)
		leituras.POST("/agregar-leituras/", h.Aggregate)
		leituras.GET("/agregar-leituras/", h.AggregateRedirect)
		leituras.GET("/exportar-leituras/", h.ExportCSV)
	}

	r.GET("/dashboard/", h.Dashboard)

	api := r.Group("/api")
	{
		api.GET("/chart-data/", h.ChartData)
		api.GET("/chart-summary/", h.ChartSummary)
	}

	if h.live != nil {
		r.GET("/ws", gin.WrapH(h.live))
	}

	return r
}
