// Package scheduler runs the relay's periodic maintenance jobs on cron
// schedules: the end-of-day quota report and Q&A log retention.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

const component = "scheduler"

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type QuotaReader interface {
	Limit() int
	Usage(ctx context.Context, bot string) (store.QuotaRecord, error)
}

type QAPruner interface {
	PruneQA(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Bots                []string
	QuotaReportSchedule string
	RetentionSchedule   string
	RetentionDays       int
	Location            *time.Location
}

type Service struct {
	cfg      Config
	quota    QuotaReader
	pruner   QAPruner
	metrics  *metrics.Collector
	logger   *slog.Logger
	reporter heartbeat.Reporter
	now      func() time.Time
}

func New(cfg Config, quota QuotaReader, pruner QAPruner, collector *metrics.Collector, logger *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		quota:   quota,
		pruner:  pruner,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Validate parses every configured schedule.
func (s *Service) Validate() error {
	for name, expr := range map[string]string{
		"quota report": s.cfg.QuotaReportSchedule,
		"retention":    s.cfg.RetentionSchedule,
	} {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if _, err := cronParser.Parse(strings.TrimSpace(expr)); err != nil {
			return fmt.Errorf("parse %s schedule %q: %w", name, expr, err)
		}
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	if s.reporter != nil {
		s.reporter.Starting(component, "starting")
	}
	runner := cron.New(cron.WithParser(cronParser), cron.WithLocation(s.cfg.Location))
	jobs := 0
	if expr := strings.TrimSpace(s.cfg.QuotaReportSchedule); expr != "" && s.quota != nil {
		if _, err := runner.AddFunc(expr, func() { s.runJob(ctx, "quota_report", s.RunQuotaReport) }); err != nil {
			return fmt.Errorf("schedule quota report: %w", err)
		}
		jobs++
	}
	if expr := strings.TrimSpace(s.cfg.RetentionSchedule); expr != "" && s.pruner != nil && s.cfg.RetentionDays > 0 {
		if _, err := runner.AddFunc(expr, func() { s.runJob(ctx, "qa_retention", s.RunRetention) }); err != nil {
			return fmt.Errorf("schedule qa retention: %w", err)
		}
		jobs++
	}
	if jobs == 0 {
		if s.reporter != nil {
			s.reporter.Disabled(component, "no jobs configured")
		}
		s.logger.Info("scheduler disabled, no jobs configured")
		<-ctx.Done()
		return nil
	}

	runner.Start()
	if s.reporter != nil {
		s.reporter.Beat(component, "waiting for schedule")
	}
	s.logger.Info("scheduler started", "jobs", jobs, "timezone", s.cfg.Location.String())
	<-ctx.Done()
	<-runner.Stop().Done()
	if s.reporter != nil {
		s.reporter.Stopped(component, "stopped")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Service) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := job(ctx); err != nil {
		if s.reporter != nil {
			s.reporter.Degrade(component, name+" failed", err)
		}
		s.logger.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	if s.reporter != nil {
		s.reporter.Beat(component, name+" completed")
	}
	s.logger.Info("scheduled job completed", "job", name, "duration", time.Since(started).String())
}

// RunQuotaReport logs and exports each bot's quota usage for today.
func (s *Service) RunQuotaReport(ctx context.Context) error {
	limit := s.quota.Limit()
	for _, bot := range s.cfg.Bots {
		record, err := s.quota.Usage(ctx, bot)
		if err != nil {
			return fmt.Errorf("quota usage for %s: %w", bot, err)
		}
		s.metrics.QuotaUsed(bot, record.Count)
		s.logger.Info("daily quota usage",
			"bot", bot,
			"day", record.Day,
			"count", record.Count,
			"limit", limit,
			"exhausted", record.Count >= limit,
		)
	}
	return nil
}

// RunRetention deletes Q&A records older than the retention window.
func (s *Service) RunRetention(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	removed, err := s.pruner.PruneQA(ctx, cutoff)
	if err != nil {
		return err
	}
	s.logger.Info("qa log pruned", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
