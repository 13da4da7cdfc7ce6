package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

const (
	DefaultDailyLimit = 100
	dayLayout         = "2006-01-02"
)

// Store persists one {day, count} counter per bot.
type Store interface {
	ConsumeQuota(ctx context.Context, bot, day string, limit int) (store.QuotaRecord, bool, error)
	QuotaUsage(ctx context.Context, bot, day string) (store.QuotaRecord, error)
}

type Config struct {
	DailyLimit int
	Location   *time.Location
}

// Gate caps user-initiated questions per bot per calendar day. A slot is
// reserved before the assistant is asked, so concurrent questions cannot
// overshoot the limit.
type Gate struct {
	store    Store
	limit    int
	location *time.Location
	now      func() time.Time
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewGate(backing Store, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Gate {
	if cfg.DailyLimit < 1 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:    backing,
		limit:    cfg.DailyLimit,
		location: cfg.Location,
		now:      time.Now,
		metrics:  collector,
		logger:   logger,
	}
}

func (g *Gate) Limit() int {
	return g.limit
}

func (g *Gate) Today() string {
	return g.now().In(g.location).Format(dayLayout)
}

// Allow reserves one question for bot. A false result means the question must
// be dropped without a reply.
func (g *Gate) Allow(ctx context.Context, bot string) (bool, error) {
	bot = strings.TrimSpace(bot)
	day := g.Today()
	record, allowed, err := g.store.ConsumeQuota(ctx, bot, day, g.limit)
	if err != nil {
		return false, fmt.Errorf("consume quota for %s: %w", bot, err)
	}
	if !allowed {
		g.metrics.QuotaDropped(bot)
		g.logger.Info("question dropped", "bot", bot, "reason", "quota_exhausted", "day", day, "count", record.Count, "limit", g.limit)
		return false, nil
	}
	return true, nil
}

func (g *Gate) Usage(ctx context.Context, bot string) (store.QuotaRecord, error) {
	record, err := g.store.QuotaUsage(ctx, strings.TrimSpace(bot), g.Today())
	if err != nil {
		return store.QuotaRecord{}, fmt.Errorf("quota usage for %s: %w", bot, err)
	}
	return record, nil
}
