package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dwizi/assistant-relay/internal/conversation"
)

type Entry struct {
	GroupID   string
	SessionID string
	StartedAt time.Time
	Speaker   string
	Kind      string
	Text      string
	Timestamp time.Time
}

var pathSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Writer appends bot conversations to markdown files under root, one file
// per session.
type Writer struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

func NewWriter(root string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{root: strings.TrimSpace(root), logger: logger}
}

// Observe is a conversation.Observer.
func (w *Writer) Observe(event conversation.Event) {
	entry := Entry{
		GroupID:   event.Session.GroupID,
		SessionID: event.Session.ID,
		StartedAt: event.Session.StartedAt,
		Timestamp: time.Now().UTC(),
	}
	switch event.Kind {
	case conversation.EventSessionStarted:
		if strings.TrimSpace(event.Prompt) == "" {
			return
		}
		entry.Kind = "prompt"
		entry.Speaker = event.Session.Initiator
		entry.Text = event.Prompt
	case conversation.EventTurnCompleted:
		entry.Speaker = event.Turn.Bot
		if event.Err != nil {
			entry.Kind = "failed"
			entry.Text = event.Err.Error()
		} else {
			entry.Kind = "turn"
			entry.Text = event.Turn.Reply
		}
	case conversation.EventSessionEnded:
		entry.Kind = "ended"
		entry.Speaker = "orchestrator"
		entry.Text = fmt.Sprintf("reason: %s, turns: %d", event.Reason, event.Session.Turns)
	default:
		return
	}
	if err := w.Append(entry); err != nil {
		w.logger.Warn("transcript append failed", "group_id", entry.GroupID, "session_id", entry.SessionID, "error", err)
	}
}

func (w *Writer) Append(entry Entry) error {
	if w.root == "" {
		return nil
	}
	text := strings.TrimSpace(entry.Text)
	if text == "" {
		return nil
	}
	groupID := sanitizeSegment(entry.GroupID)
	if groupID == "" {
		groupID = "unknown"
	}
	sessionID := sanitizeSegment(entry.SessionID)
	if sessionID == "" {
		sessionID = "unknown"
	}
	timestamp := entry.Timestamp.UTC()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	started := entry.StartedAt.UTC()
	if started.IsZero() {
		started = timestamp
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	baseDir := filepath.Join(w.root, "transcripts", groupID)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	logPath := w.Path(entry.GroupID, entry.SessionID, started)

	header := ""
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		header = fmt.Sprintf("# Conversation\n\n- group_id: `%s`\n- session_id: `%s`\n- started_at: `%s`\n\n", strings.TrimSpace(entry.GroupID), strings.TrimSpace(entry.SessionID), started.Format(time.RFC3339))
	}

	kind := strings.TrimSpace(strings.ToLower(entry.Kind))
	if kind == "" {
		kind = "turn"
	}
	speaker := strings.TrimSpace(entry.Speaker)
	if speaker == "" {
		speaker = "unknown"
	}
	body := fmt.Sprintf(
		"## %s `%s`\n- kind: `%s`\n\n%s\n\n",
		timestamp.Format(time.RFC3339),
		speaker,
		kind,
		text,
	)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if header != "" {
		if _, err := file.WriteString(header); err != nil {
			return err
		}
	}
	_, err = file.WriteString(body)
	return err
}

// Path is where the transcript for one session lives.
func (w *Writer) Path(groupID, sessionID string, startedAt time.Time) string {
	group := sanitizeSegment(groupID)
	if group == "" {
		group = "unknown"
	}
	session := sanitizeSegment(sessionID)
	if session == "" {
		session = "unknown"
	}
	if len(session) > 8 {
		session = session[:8]
	}
	name := startedAt.UTC().Format("20060102-150405") + "-" + session + ".md"
	return filepath.Join(w.root, "transcripts", group, name)
}

func sanitizeSegment(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, " ", "-")
	trimmed = pathSanitizer.ReplaceAllString(trimmed, "-")
	trimmed = strings.Trim(trimmed, ".")
	return strings.ToLower(trimmed)
}
