package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/sensor-rollup/internal/logging"
	"github.com/septivank/sensor-rollup/internal/mq"
	"github.com/septivank/sensor-rollup/internal/rollup"
	"go.uber.org/zap"
)

// Trigger names what started an aggregation run
type Trigger string

const (
	TriggerCLI       Trigger = "cli"
	TriggerDashboard Trigger = "dashboard"
	TriggerQueue     Trigger = "queue"
)

// notifyTimeout bounds each notifier so a slow broker cannot stall a trigger
const notifyTimeout = 5 * time.Second

// Aggregator runs one aggregation pass
type Aggregator interface {
	Aggregate(ctx context.Context, period rollup.Period) (*rollup.Report, error)
}

// Notifier is told about every finished run
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error
}

// AggregateRequest is the queue message asking for an aggregation run
type AggregateRequest struct {
	RequestID string `json:"request_id"`
	Period    string `json:"period"`
}

// AggregationService runs the engine for every trigger and fans results out to notifiers
type AggregationService struct {
	// mu serializes runs started from different triggers in this process
	mu        sync.Mutex
	engine    Aggregator
	notifiers []Notifier
	logger    *zap.Logger
}

// NewAggregationService creates a new aggregation service
func NewAggregationService(engine Aggregator, logger *zap.Logger, notifiers ...Notifier) *AggregationService {
	return &AggregationService{
		engine:    engine,
		notifiers: notifiers,
		logger:    logger,
	}
}

// AddNotifier registers another notifier for subsequent runs
func (s *AggregationService) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Run aggregates pending readings for period. requestID may be empty.
// The report is returned even when some families failed.
func (s *AggregationService) Run(ctx context.Context, period rollup.Period, trigger Trigger, requestID string) (*rollup.Report, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := logging.WithRequestID(s.logger, requestID)

	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Info("starting aggregation",
		zap.String("trigger", string(trigger)),
		zap.String("period", period.String()))

	report, err := s.engine.Aggregate(ctx, period)
	if report != nil {
		logger = logging.WithRunID(logger, report.RunID)
		s.notify(ctx, logger, newRunEvent(report, trigger, requestID, err))
	}
	if err != nil {
		logger.Error("aggregation failed", zap.Error(err))
		return report, fmt.Errorf("aggregation failed: %w", err)
	}

	logger.Info("aggregation completed", zap.Int("rows", report.Rows()))
	return report, nil
}

// HandleRequest processes one queue message. Malformed messages and failed runs
// return an error so the consumer dead-letters them.
func (s *AggregationService) HandleRequest(ctx context.Context, body []byte) error {
	var req AggregateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	period, err := rollup.ParsePeriod(req.Period)
	if err != nil {
		return err
	}

	_, err = s.Run(ctx, period, TriggerQueue, req.RequestID)
	return err
}

func (s *AggregationService) notify(ctx context.Context, logger *zap.Logger, event mq.RunCompletedEvent) {
	for _, n := range s.notifiers {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		err := n.NotifyRunCompleted(nctx, event)
		cancel()
		if err != nil {
			// Log error but don't fail the run, the rollups are already stored
			logger.Error("failed to notify run completion",
				zap.Error(err),
				zap.String("notifier", fmt.Sprintf("%T", n)))
		}
	}
}

func newRunEvent(report *rollup.Report, trigger Trigger, requestID string, runErr error) mq.RunCompletedEvent {
	event := mq.RunCompletedEvent{
		RunID:      report.RunID,
		RequestID:  requestID,
		Trigger:    string(trigger),
		Period:     report.Period,
		Strategy:   string(report.Strategy),
		Success:    runErr == nil,
		Rows:       report.Rows(),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	for _, f := range report.Families {
		fr := mq.FamilyResult{
			Family:  f.Family,
			Rows:    f.Rows,
			Groups:  f.Groups,
			Flagged: f.Flagged,
		}
		if f.Err != nil {
			fr.Error = f.Err.Error()
		}
		event.Families = append(event.Families, fr)
	}
	return event
}
