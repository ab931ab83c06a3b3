package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/sensor-rollup/internal/mq"
	"github.com/septivank/sensor-rollup/internal/rollup"
	"go.uber.org/zap"
)

type fakeEngine struct {
	periods []rollup.Period
	report  *rollup.Report
	err     error
}

func (f *fakeEngine) Aggregate(ctx context.Context, period rollup.Period) (*rollup.Report, error) {
	f.periods = append(f.periods, period)
	report := *f.report
	report.Period = period.String()
	return &report, f.err
}

type recorder struct {
	events []mq.RunCompletedEvent
	err    error
}

func (r *recorder) NotifyRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func newReport() *rollup.Report {
	now := time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)
	return &rollup.Report{
		RunID:    "run-1",
		Strategy: rollup.Loop,
		Families: []rollup.FamilyReport{
			{Family: "temperature", Rows: 3, Groups: 1, Flagged: 3},
			{Family: "humidity", Rows: 2, Groups: 1, Flagged: 2},
		},
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
}

func TestRunNotifiesEveryNotifier(t *testing.T) {
	engine := &fakeEngine{report: newReport()}
	first, second := &recorder{}, &recorder{err: errors.New("broker down")}
	svc := NewAggregationService(engine, zap.NewNop(), first, second)

	report, err := svc.Run(context.Background(), rollup.Day, TriggerCLI, "req-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Rows() != 5 {
		t.Errorf("rows = %d, want 5", report.Rows())
	}

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("events = %d/%d, want 1/1", len(first.events), len(second.events))
	}
	event := first.events[0]
	if event.RunID != "run-1" || event.RequestID != "req-1" || event.Trigger != "cli" {
		t.Errorf("event ids = %+v", event)
	}
	if !event.Success || event.Period != "day" || event.Rows != 5 || len(event.Families) != 2 {
		t.Errorf("event = %+v", event)
	}
}

func TestRunReportsFamilyFailures(t *testing.T) {
	report := newReport()
	familyErr := errors.New("relation does not exist")
	report.Families[1].Err = familyErr
	engine := &fakeEngine{report: report, err: familyErr}
	rec := &recorder{}
	svc := NewAggregationService(engine, zap.NewNop(), rec)

	got, err := svc.Run(context.Background(), rollup.Hour, TriggerDashboard, "")
	if !errors.Is(err, familyErr) {
		t.Fatalf("error = %v, want wrapped family error", err)
	}
	if got == nil {
		t.Fatal("report should be returned with the error")
	}

	event := rec.events[0]
	if event.Success || event.Error == "" {
		t.Errorf("event should report failure: %+v", event)
	}
	if event.Families[1].Error != familyErr.Error() || event.Families[0].Error != "" {
		t.Errorf("family errors = %+v", event.Families)
	}
	if event.RequestID == "" {
		t.Error("a request id should be generated")
	}
}

func TestHandleRequest(t *testing.T) {
	engine := &fakeEngine{report: newReport()}
	rec := &recorder{}
	svc := NewAggregationService(engine, zap.NewNop(), rec)

	if err := svc.HandleRequest(context.Background(), []byte(`{"request_id":"abc","period":"semana"}`)); err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if len(engine.periods) != 1 || engine.periods[0] != rollup.Week {
		t.Errorf("periods = %v, want [week]", engine.periods)
	}
	if rec.events[0].Trigger != "queue" || rec.events[0].RequestID != "abc" {
		t.Errorf("event = %+v", rec.events[0])
	}

	if err := svc.HandleRequest(context.Background(), []byte(`{"request_id":"abc"}`)); err != nil {
		t.Errorf("missing period should default to hour: %v", err)
	}
	if engine.periods[1] != rollup.Hour {
		t.Errorf("period = %v, want hour", engine.periods[1])
	}
}

func TestHandleRequestRejectsBadMessages(t *testing.T) {
	engine := &fakeEngine{report: newReport()}
	svc := NewAggregationService(engine, zap.NewNop())

	for _, body := range []string{`not json`, `{"period":"month"}`} {
		if err := svc.HandleRequest(context.Background(), []byte(body)); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
	if len(engine.periods) != 0 {
		t.Errorf("engine should not run, got %d runs", len(engine.periods))
	}
}
