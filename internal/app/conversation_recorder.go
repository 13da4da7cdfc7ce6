package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

type conversationRunStore interface {
	RecordConversationRun(ctx context.Context, run store.ConversationRun) error
}

type conversationObserver interface {
	Observe(event conversation.Event)
}

// conversationRecorder fans orchestrator events out to metrics, the run
// history table and the transcript writer.
type conversationRecorder struct {
	runs        conversationRunStore
	transcripts conversationObserver
	metrics     *metrics.Collector
	logger      *slog.Logger
}

func newConversationRecorder(runs conversationRunStore, transcripts conversationObserver, collector *metrics.Collector, logger *slog.Logger) *conversationRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &conversationRecorder{
		runs:        runs,
		transcripts: transcripts,
		metrics:     collector,
		logger:      logger,
	}
}

func (r *conversationRecorder) Observe(event conversation.Event) {
	switch event.Kind {
	case conversation.EventSessionStarted:
		r.metrics.SessionStarted()
	case conversation.EventTurnCompleted:
		r.metrics.ObserveTurn(event.Turn.Bot, event.Turn.Elapsed, event.Err)
	case conversation.EventSessionEnded:
		r.metrics.SessionEnded(event.Reason)
		r.recordRun(event)
	}
	if r.transcripts != nil {
		r.transcripts.Observe(event)
	}
}

func (r *conversationRecorder) recordRun(event conversation.Event) {
	if r.runs == nil {
		return
	}
	// Shutdown events arrive after the runtime context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.runs.RecordConversationRun(ctx, store.ConversationRun{
		ID:        event.Session.ID,
		GroupID:   event.Session.GroupID,
		Initiator: event.Session.Initiator,
		Bots:      event.Session.Order,
		Turns:     event.Session.Turns,
		EndReason: event.Reason,
		StartedAt: event.Session.StartedAt,
		EndedAt:   time.Now().UTC(),
	}); err != nil {
		r.logger.Warn("record conversation run failed", "group_id", event.Session.GroupID, "session_id", event.Session.ID, "error", err)
	}
}
