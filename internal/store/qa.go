package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QARecord is one answered direct question.
type QARecord struct {
	ID        string    `json:"id"`
	Bot       string    `json:"bot"`
	UserID    string    `json:"telegram_id"`
	Username  string    `json:"username"`
	ChatID    string    `json:"chat_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

type AppendQAInput struct {
	Bot      string
	UserID   string
	Username string
	ChatID   string
	Question string
	Answer   string
}

func (s *Store) AppendQA(ctx context.Context, input AppendQAInput) (QARecord, error) {
	record := QARecord{
		ID:        "qa_" + uuid.NewString(),
		Bot:       strings.TrimSpace(input.Bot),
		UserID:    strings.TrimSpace(input.UserID),
		Username:  strings.TrimSpace(input.Username),
		ChatID:    strings.TrimSpace(input.ChatID),
		Question:  strings.TrimSpace(input.Question),
		Answer:    strings.TrimSpace(input.Answer),
		CreatedAt: time.Now().UTC(),
	}
	if record.Bot == "" || record.UserID == "" || record.ChatID == "" || record.Question == "" {
		return QARecord{}, fmt.Errorf("missing required qa fields")
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO qa_log (id, bot, user_id, username, chat_id, question, answer, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Bot,
		record.UserID,
		nullIfEmpty(record.Username),
		record.ChatID,
		record.Question,
		record.Answer,
		record.CreatedAt.Unix(),
	); err != nil {
		return QARecord{}, fmt.Errorf("insert qa record: %w", err)
	}
	return record, nil
}

// ListQA returns the newest records first. An empty bot lists every bot.
func (s *Store) ListQA(ctx context.Context, bot string, limit int) ([]QARecord, error) {
	limit = clampLimit(limit, 50, 1000)
	where := "1=1"
	args := make([]any, 0, 2)
	if bot = strings.TrimSpace(bot); bot != "" {
		where = "bot = ?"
		args = append(args, bot)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, bot, user_id, COALESCE(username, ''), chat_id, question, answer, created_at_unix
		 FROM qa_log
		 WHERE `+where+`
		 ORDER BY created_at_unix DESC, rowid DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query qa log: %w", err)
	}
	defer rows.Close()

	records := make([]QARecord, 0, limit)
	for rows.Next() {
		var record QARecord
		var createdAtUnix int64
		if err := rows.Scan(
			&record.ID,
			&record.Bot,
			&record.UserID,
			&record.Username,
			&record.ChatID,
			&record.Question,
			&record.Answer,
			&createdAtUnix,
		); err != nil {
			return nil, err
		}
		record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}

// PruneQA deletes records created before cutoff.
func (s *Store) PruneQA(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM qa_log WHERE created_at_unix < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune qa log: %w", err)
	}
	return result.RowsAffected()
}
