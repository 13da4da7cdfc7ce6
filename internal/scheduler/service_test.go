package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

type fakeQuota struct {
	usage map[string]int
	err   error
}

func (f *fakeQuota) Limit() int {
	return 100
}

func (f *fakeQuota) Usage(ctx context.Context, bot string) (store.QuotaRecord, error) {
	if f.err != nil {
		return store.QuotaRecord{}, f.err
	}
	return store.QuotaRecord{Bot: bot, Day: "2024-05-01", Count: f.usage[bot]}, nil
}

type fakePruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakePruner) PruneQA(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 3, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunQuotaReportExportsUsage(t *testing.T) {
	collector := metrics.New()
	service := New(Config{Bots: []string{"alpha", "beta"}}, &fakeQuota{usage: map[string]int{"alpha": 100, "beta": 4}}, nil, collector, testLogger())

	if err := service.RunQuotaReport(context.Background()); err != nil {
		t.Fatalf("quota report: %v", err)
	}
	expected := `
# HELP assistant_relay_quota_used Questions consumed today per bot, as of the last quota report.
# TYPE assistant_relay_quota_used gauge
assistant_relay_quota_used{bot="alpha"} 100
assistant_relay_quota_used{bot="beta"} 4
`
	if err := testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected), "assistant_relay_quota_used"); err != nil {
		t.Fatalf("unexpected quota gauge: %v", err)
	}
}

func TestRunQuotaReportWrapsErrors(t *testing.T) {
	backendErr := errors.New("redis down")
	service := New(Config{Bots: []string{"alpha"}}, &fakeQuota{err: backendErr}, nil, nil, testLogger())
	if err := service.RunQuotaReport(context.Background()); !errors.Is(err, backendErr) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestRunRetentionUsesCutoff(t *testing.T) {
	pruner := &fakePruner{}
	service := New(Config{RetentionDays: 30}, nil, pruner, nil, testLogger())
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	if err := service.RunRetention(context.Background()); err != nil {
		t.Fatalf("retention: %v", err)
	}
	if !pruner.cutoff.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected cutoff: %s", pruner.cutoff)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	service := New(Config{QuotaReportSchedule: "every day"}, nil, nil, nil, testLogger())
	if err := service.Validate(); err == nil {
		t.Fatal("expected schedule parse error")
	}
	service = New(Config{QuotaReportSchedule: "55 23 * * *", RetentionSchedule: "@daily"}, nil, nil, nil, testLogger())
	if err := service.Validate(); err != nil {
		t.Fatalf("expected valid schedules, got %v", err)
	}
}

func TestStartWithoutJobsReportsDisabled(t *testing.T) {
	registry := heartbeat.NewRegistry()
	service := New(Config{}, nil, nil, nil, testLogger())
	service.SetHeartbeatReporter(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	snapshot := registry.Snapshot(0)
	if len(snapshot.Components) != 1 || snapshot.Components[0].State != heartbeat.StateDisabled {
		t.Fatalf("expected disabled scheduler, got %+v", snapshot.Components)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	registry := heartbeat.NewRegistry()
	service := New(Config{
		Bots:                []string{"alpha"},
		QuotaReportSchedule: "55 23 * * *",
	}, &fakeQuota{}, nil, nil, testLogger())
	service.SetHeartbeatReporter(registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	if state := registry.Snapshot(0).Components[0].State; state != heartbeat.StateStopped {
		t.Fatalf("expected stopped state, got %s", state)
	}
}
