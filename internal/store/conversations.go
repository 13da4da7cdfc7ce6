package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ConversationRun is the summary kept after a group conversation ends.
type ConversationRun struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Initiator string    `json:"initiator"`
	Bots      []string  `json:"bots"`
	Turns     int       `json:"turns"`
	EndReason string    `json:"end_reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (s *Store) RecordConversationRun(ctx context.Context, run ConversationRun) error {
	if strings.TrimSpace(run.ID) == "" || strings.TrimSpace(run.GroupID) == "" {
		return fmt.Errorf("missing required conversation run fields")
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO conversation_runs (id, group_id, initiator, bots, turns, end_reason, started_at_unix, ended_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			turns = excluded.turns,
			end_reason = excluded.end_reason,
			ended_at_unix = excluded.ended_at_unix`,
		run.ID,
		run.GroupID,
		run.Initiator,
		strings.Join(run.Bots, ","),
		run.Turns,
		run.EndReason,
		run.StartedAt.UTC().Unix(),
		run.EndedAt.UTC().Unix(),
	); err != nil {
		return fmt.Errorf("insert conversation run: %w", err)
	}
	return nil
}

// ListConversationRuns returns the most recently ended runs first.
func (s *Store) ListConversationRuns(ctx context.Context, groupID string, limit int) ([]ConversationRun, error) {
	limit = clampLimit(limit, 20, 500)
	where := "1=1"
	args := make([]any, 0, 2)
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		where = "group_id = ?"
		args = append(args, groupID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, group_id, initiator, bots, turns, end_reason, started_at_unix, ended_at_unix
		 FROM conversation_runs
		 WHERE `+where+`
		 ORDER BY ended_at_unix DESC, rowid DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation runs: %w", err)
	}
	defer rows.Close()

	runs := []ConversationRun{}
	for rows.Next() {
		var run ConversationRun
		var bots string
		var startedAtUnix, endedAtUnix int64
		if err := rows.Scan(&run.ID, &run.GroupID, &run.Initiator, &bots, &run.Turns, &run.EndReason, &startedAtUnix, &endedAtUnix); err != nil {
			return nil, err
		}
		if bots != "" {
			run.Bots = strings.Split(bots, ",")
		}
		run.StartedAt = time.Unix(startedAtUnix, 0).UTC()
		run.EndedAt = time.Unix(endedAtUnix, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
