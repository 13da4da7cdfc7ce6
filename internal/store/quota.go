package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type QuotaRecord struct {
	Bot   string `json:"bot"`
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ConsumeQuota reserves one request for bot on day. The counter restarts
// when day differs from the stored one. allowed is false once count has
// reached limit; the counter is left untouched in that case.
func (s *Store) ConsumeQuota(ctx context.Context, bot, day string, limit int) (QuotaRecord, bool, error) {
	bot = strings.TrimSpace(bot)
	day = strings.TrimSpace(day)
	if bot == "" || day == "" {
		return QuotaRecord{}, false, fmt.Errorf("bot and day are required")
	}
	if limit < 1 {
		record, err := s.QuotaUsage(ctx, bot, day)
		return record, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QuotaRecord{}, false, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`INSERT INTO quota_counters (bot, day, count, updated_at_unix)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(bot) DO UPDATE SET
			count = CASE WHEN quota_counters.day = excluded.day THEN quota_counters.count + 1 ELSE 1 END,
			day = excluded.day,
			updated_at_unix = excluded.updated_at_unix
		 WHERE quota_counters.day <> excluded.day OR quota_counters.count < ?`,
		bot,
		day,
		time.Now().UTC().Unix(),
		limit,
	)
	if err != nil {
		return QuotaRecord{}, false, fmt.Errorf("consume quota: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return QuotaRecord{}, false, fmt.Errorf("consume quota rows: %w", err)
	}

	record := QuotaRecord{Bot: bot}
	if err := tx.QueryRowContext(
		ctx,
		`SELECT day, count FROM quota_counters WHERE bot = ?`,
		bot,
	).Scan(&record.Day, &record.Count); err != nil {
		return QuotaRecord{}, false, fmt.Errorf("read quota: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return QuotaRecord{}, false, fmt.Errorf("commit quota tx: %w", err)
	}
	return record, affected > 0, nil
}

// QuotaUsage reports today's count for bot; a stale day reads as zero.
func (s *Store) QuotaUsage(ctx context.Context, bot, day string) (QuotaRecord, error) {
	record := QuotaRecord{Bot: strings.TrimSpace(bot), Day: strings.TrimSpace(day)}
	var storedDay string
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT day, count FROM quota_counters WHERE bot = ?`,
		record.Bot,
	).Scan(&storedDay, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return record, nil
	}
	if err != nil {
		return QuotaRecord{}, fmt.Errorf("query quota: %w", err)
	}
	if storedDay == record.Day {
		record.Count = count
	}
	return record, nil
}

func (s *Store) ListQuota(ctx context.Context) ([]QuotaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bot, day, count FROM quota_counters ORDER BY bot`)
	if err != nil {
		return nil, fmt.Errorf("list quota: %w", err)
	}
	defer rows.Close()

	records := []QuotaRecord{}
	for rows.Next() {
		var record QuotaRecord
		if err := rows.Scan(&record.Bot, &record.Day, &record.Count); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
