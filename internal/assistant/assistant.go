package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrUnavailable     = errors.New("assistant unavailable")
	ErrEmptyReply      = errors.New("assistant produced no reply")
	ErrUpstreamTimeout = errors.New("assistant reply timed out")
	ErrRunFailed       = errors.New("assistant run failed")
)

const (
	ModeAssistants = "assistants"
	ModeChat       = "chat"

	DefaultHistoryLimit = 20
)

// Asker is the blocking question/answer call a bot delegates to. Each
// conversationID (a chat or group id) keeps its own context upstream.
type Asker interface {
	Ask(ctx context.Context, conversationID, prompt string) (string, error)
}

type Config struct {
	Mode         string
	APIKey       string
	BaseURL      string
	AssistantID  string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	PollInterval time.Duration
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4o"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HistoryLimit < 1 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode != ModeChat {
		c.Mode = ModeAssistants
	}
	return c
}

// New returns the backend selected by cfg.Mode.
func New(cfg Config, logger *slog.Logger) Asker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == ModeChat {
		return NewChatClient(cfg, logger)
	}
	return NewAssistantsClient(cfg, logger)
}

// deadlineError maps any deadline expiry, ours or the caller's, onto
// ErrUpstreamTimeout. Plain cancellation is returned untouched.
func deadlineError(bounded context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return errors.Join(ErrUpstreamTimeout, err)
	}
	return err
}

func requiresAPIKey(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "ollama") {
		return false
	}
	return true
}
