package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/septivank/sensor-rollup/internal/config"
	"github.com/septivank/sensor-rollup/internal/db"
	"github.com/septivank/sensor-rollup/internal/httpapi"
	"github.com/septivank/sensor-rollup/internal/live"
	"github.com/septivank/sensor-rollup/internal/logging"
	"github.com/septivank/sensor-rollup/internal/mq"
	"github.com/septivank/sensor-rollup/internal/report"
	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/septivank/sensor-rollup/internal/rollup"
	"github.com/septivank/sensor-rollup/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Core provides configuration, logging, the store and the aggregation service.
// Both binaries build on it.
var Core = fx.Options(
	fx.Provide(
		config.Load,
		ProvideLogger,
		ProvideRepository,
		ProvideEngine,
		ProvideAggregationService,
	),
)

// Server adds the HTTP surface, the websocket feed and the optional broker to Core.
var Server = fx.Options(
	Core,
	fx.Provide(
		ProvideReportService,
		ProvideHub,
		ProvideHandler,
		ProvideRouter,
	),
	fx.Invoke(
		registerHub,
		startBroker,
		startHTTPServer,
	),
)

// ProvideLogger creates the service logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

// ProvideRepository opens the configured database and returns its repository
func ProvideRepository(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgres(pool), nil
	case config.DriverSQLite:
		conn, err := db.NewSQLite(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLite(conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// ProvideEngine creates the aggregation engine
func ProvideEngine(repo repository.Repository, cfg *config.Config, logger *zap.Logger) (*rollup.Engine, error) {
	engine, err := rollup.NewEngine(repo, rollup.Options{
		Strategy: rollup.Strategy(cfg.Rollup.Strategy),
		Location: cfg.Location,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("aggregation engine ready",
		zap.String("driver", repo.Dialect().String()),
		zap.String("strategy", string(engine.Strategy())),
		zap.String("time_zone", cfg.TimeZone))
	return engine, nil
}

// ProvideAggregationService creates the aggregation service without notifiers
func ProvideAggregationService(engine *rollup.Engine, logger *zap.Logger) *service.AggregationService {
	return service.NewAggregationService(engine, logger)
}

// ProvideReportService creates the read side of the dashboard
func ProvideReportService(repo repository.Repository, cfg *config.Config, logger *zap.Logger) *report.Service {
	return report.NewService(repo, report.Options{
		PageSize:       cfg.Dashboard.PageSize,
		ChartMaxPoints: cfg.Dashboard.ChartMaxPoints,
		Location:       cfg.Location,
	}, logger)
}

// ProvideHub creates the websocket hub and disconnects its clients on stop
func ProvideHub(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *live.Hub {
	hub := live.NewHub(logger, originChecker(cfg.HTTP.AllowedOrigins))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			hub.Close()
			return nil
		},
	})
	return hub
}

// ProvideHandler creates the HTTP handlers
func ProvideHandler(reports *report.Service, svc *service.AggregationService, hub *live.Hub, logger *zap.Logger) *httpapi.Handler {
	return httpapi.NewHandler(reports, svc, hub, logger)
}

// ProvideRouter creates the gin engine
func ProvideRouter(h *httpapi.Handler, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	return httpapi.NewRouter(h, logger, cfg.HTTP.AllowedOrigins)
}

func registerHub(svc *service.AggregationService, hub *live.Hub) {
	svc.AddNotifier(hub)
}

func startHTTPServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	httpapi.NewServer(lc, router, cfg.ServicePort, logger)
}

// startBroker connects to RabbitMQ when configured: run events are published to the
// events exchange and aggregation requests are consumed from the aggregate queue.
func startBroker(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, svc *service.AggregationService) error {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, queue trigger and event publishing disabled")
		return nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, logger)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	svc.AddNotifier(publisher)

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.AggregateQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.AggregateExchange,
		RoutingKey:    cfg.RabbitMQ.AggregateRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       svc.HandleRequest,
	})
	if err != nil {
		return err
	}
	consumer.RegisterLifecycle(lc)

	logger.Info("aggregation consumer registered",
		zap.String("queue", cfg.RabbitMQ.AggregateQueue),
		zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
	return nil
}

// originChecker returns nil (accept all) for a wildcard list
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
