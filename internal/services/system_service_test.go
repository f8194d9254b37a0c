package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

type stubAuditService struct {
	filter AuditLogFilter
	result domain.CursorPage[domain.AuditLogEntry]
	err    error
}

func (s *stubAuditService) Record(context.Context, AuditLogRecord) {}

func (s *stubAuditService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	s.filter = filter
	return s.result, s.err
}

func newSystemService(t *testing.T, deps SystemServiceDeps) SystemService {
	t.Helper()
	if deps.HealthRepository == nil {
		deps.HealthRepository = &stubHealthRepository{}
	}
	svc, err := NewSystemService(deps)
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	return svc
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc := newSystemService(t, SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "9f2c1ab",
			Environment: "prod",
			StartedAt:   start,
		},
	})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}

	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "9f2c1ab" || report.Environment != "prod" {
		t.Fatalf("build metadata not applied: %+v", report)
	}
	if report.Uptime != now.Sub(start) {
		t.Fatalf("expected uptime %s, got %s", now.Sub(start), report.Uptime)
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc := newSystemService(t, SystemServiceDeps{
		HealthRepository: &stubHealthRepository{err: expected},
	})

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceDerivesStatusWhenMissing(t *testing.T) {
	svc := newSystemService(t, SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			report: domain.SystemHealthReport{
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub":    {Status: domain.HealthStatusDegraded},
					"firestore": {Status: domain.HealthStatusOK},
					"secrets":   {Status: domain.HealthStatusOK},
				},
			},
		},
	})

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", report.Status)
	}
}

func TestSystemServiceListAuditLogsDelegates(t *testing.T) {
	audit := &stubAuditService{
		result: domain.CursorPage[domain.AuditLogEntry]{Items: []domain.AuditLogEntry{{ID: "log-1"}}},
	}
	svc := newSystemService(t, SystemServiceDeps{Audit: audit})

	result, err := svc.ListAuditLogs(context.Background(), AuditLogFilter{Actor: "/users/user-1"})
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if audit.filter.Actor != "/users/user-1" {
		t.Fatalf("expected actor filter propagated, got %s", audit.filter.Actor)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "log-1" {
		t.Fatalf("unexpected result: %+v", result.Items)
	}
}

func TestSystemServiceListAuditLogsMissing(t *testing.T) {
	svc := newSystemService(t, SystemServiceDeps{})
	if _, err := svc.ListAuditLogs(context.Background(), AuditLogFilter{}); err == nil {
		t.Fatalf("expected error when audit service missing")
	}
}

func TestSystemServiceNextCounterValueDelegates(t *testing.T) {
	var gotID string
	var gotStep int64
	counters := &stubCounterRepo{nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
		gotID = counterID
		gotStep = step
		return 42, nil
	}}
	svc := newSystemService(t, SystemServiceDeps{Counters: counters})

	value, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "orders:2025", Step: 5})
	if err != nil {
		t.Fatalf("NextCounterValue: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
	if gotID != "orders:2025" || gotStep != 5 {
		t.Fatalf("unexpected counter call: id=%s step=%d", gotID, gotStep)
	}
}

func TestSystemServiceNextCounterValueMissing(t *testing.T) {
	svc := newSystemService(t, SystemServiceDeps{})
	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "orders:2025"}); err == nil {
		t.Fatalf("expected error when counters missing")
	}
}

func TestSystemServiceNextCounterValueInvalidID(t *testing.T) {
	svc := newSystemService(t, SystemServiceDeps{Counters: &stubCounterRepo{}})
	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "   "}); err == nil {
		t.Fatalf("expected error for blank counter id")
	}
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)
var _ AuditLogService = (*stubAuditService)(nil)
