package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	runStatusCompleted      = "completed"
	runStatusQueued         = "queued"
	runStatusInProgress     = "in_progress"
	runStatusCancelling     = "cancelling"
	runStatusRequiresAction = "requires_action"
)

// AssistantsClient talks to the OpenAI Assistants API: one thread per
// conversation, a run per Ask, polled until it completes or the deadline
// passes. A thread accepts no new messages while a run is active, so asks
// within one conversation are serialized.
type AssistantsClient struct {
	cfg           Config
	httpClient    *http.Client
	conversations *conversationSet
	logger        *slog.Logger
}

func NewAssistantsClient(cfg Config, logger *slog.Logger) *AssistantsClient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantsClient{
		cfg:           cfg,
		httpClient:    &http.Client{},
		conversations: newConversationSet(cfg.HistoryLimit),
		logger:        logger,
	}
}

func (c *AssistantsClient) History(conversationID string) *History {
	return c.conversations.history(conversationID)
}

func (c *AssistantsClient) Ask(ctx context.Context, conversationID, prompt string) (string, error) {
	if requiresAPIKey(c.cfg.BaseURL) && strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing API key for %s", ErrUnavailable, c.cfg.BaseURL)
	}
	if strings.TrimSpace(c.cfg.AssistantID) == "" {
		return "", fmt.Errorf("%w: missing assistant id", ErrUnavailable)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrEmptyReply)
	}

	askCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conv := c.conversations.checkout(conversationID)
	defer c.conversations.checkin(conv)
	if err := conv.acquire(askCtx); err != nil {
		return "", deadlineError(askCtx, fmt.Errorf("wait for conversation %s: %w", conversationID, err))
	}
	defer conv.release()

	reply, err := c.ask(askCtx, conv, prompt)
	if err != nil {
		// A thread left with a dangling run cannot take new messages.
		conv.threadID = ""
		return "", deadlineError(askCtx, err)
	}
	conv.history.Append(RoleUser, prompt)
	conv.history.Append(RoleAssistant, reply)
	return reply, nil
}

// ask must be called with conv's turn held.
func (c *AssistantsClient) ask(ctx context.Context, conv *conversation, prompt string) (string, error) {
	if conv.threadID == "" {
		threadID, err := c.createThread(ctx, conv.history.Entries())
		if err != nil {
			return "", err
		}
		conv.threadID = threadID
		c.logger.Debug("assistant thread created", "thread_id", threadID, "seeded", conv.history.Len())
	}
	threadID := conv.threadID

	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", map[string]string{
		"role":    RoleUser,
		"content": prompt,
	}, nil); err != nil {
		return "", fmt.Errorf("add thread message: %w", err)
	}

	var run runObject
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", map[string]string{
		"assistant_id": c.cfg.AssistantID,
	}, &run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if err := c.waitForRun(ctx, threadID, run); err != nil {
		return "", err
	}
	return c.latestReply(ctx, threadID, run.ID)
}

func (c *AssistantsClient) waitForRun(ctx context.Context, threadID string, run runObject) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		switch run.Status {
		case runStatusCompleted:
			return nil
		case runStatusQueued, runStatusInProgress, runStatusCancelling, "":
		case runStatusRequiresAction:
			c.cancelRun(threadID, run.ID)
			return fmt.Errorf("%w: run %s requires tool output", ErrRunFailed, run.ID)
		default:
			detail := run.Status
			if run.LastError != nil && strings.TrimSpace(run.LastError.Message) != "" {
				detail += ": " + strings.TrimSpace(run.LastError.Message)
			}
			return fmt.Errorf("%w: %s", ErrRunFailed, detail)
		}

		select {
		case <-ctx.Done():
			c.cancelRun(threadID, run.ID)
			return ctx.Err()
		case <-ticker.C:
		}

		var next runObject
		if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+run.ID, nil, &next); err != nil {
			if ctx.Err() != nil {
				c.cancelRun(threadID, run.ID)
			}
			return fmt.Errorf("retrieve run: %w", err)
		}
		if next.ID == "" {
			next.ID = run.ID
		}
		run = next
	}
}

func (c *AssistantsClient) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	query := url.Values{}
	query.Set("order", "desc")
	query.Set("limit", "10")
	if runID != "" {
		query.Set("run_id", runID)
	}
	var list messageList
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages?"+query.Encode(), nil, &list); err != nil {
		return "", fmt.Errorf("list thread messages: %w", err)
	}
	for _, message := range list.Data {
		if message.Role != RoleAssistant {
			continue
		}
		parts := make([]string, 0, len(message.Content))
		for _, content := range message.Content {
			if content.Type == "text" && content.Text != nil {
				if value := strings.TrimSpace(content.Text.Value); value != "" {
					parts = append(parts, value)
				}
			}
		}
		if text := strings.TrimSpace(strings.Join(parts, "\n\n")); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyReply
}

func (c *AssistantsClient) createThread(ctx context.Context, seed []Entry) (string, error) {
	body := map[string]any{}
	if len(seed) > 0 {
		body["messages"] = seed
	}
	var thread struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", body, &thread); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if strings.TrimSpace(thread.ID) == "" {
		return "", fmt.Errorf("create thread: empty thread id")
	}
	return thread.ID, nil
}

func (c *AssistantsClient) cancelRun(threadID, runID string) {
	if threadID == "" || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", nil, nil); err != nil {
		c.logger.Warn("assistant run cancel failed", "thread_id", threadID, "run_id", runID, "error", err)
	}
}

func (c *AssistantsClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if apiKey := strings.TrimSpace(c.cfg.APIKey); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Error("assistants request failed", "method", method, "path", path, "status", res.StatusCode, "body", strings.TrimSpace(string(respBody)))
		return fmt.Errorf("assistants %s %s failed with status %d", method, path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode assistants response: %w", err)
	}
	return nil
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type messageList struct {
	Data []struct {
		ID      string `json:"id"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}
