package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

// ChatClient answers through /chat/completions, replaying the
// conversation's rolling history as context on every request.
type ChatClient struct {
	cfg           Config
	httpClient    *http.Client
	conversations *conversationSet
	logger        *slog.Logger
}

func NewChatClient(cfg Config, logger *slog.Logger) *ChatClient {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClient{
		cfg:           cfg,
		httpClient:    &http.Client{},
		conversations: newConversationSet(cfg.HistoryLimit),
		logger:        logger,
	}
}

func (c *ChatClient) History(conversationID string) *History {
	return c.conversations.history(conversationID)
}

func (c *ChatClient) Ask(ctx context.Context, conversationID, prompt string) (string, error) {
	if requiresAPIKey(c.cfg.BaseURL) && strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing API key for %s", ErrUnavailable, c.cfg.BaseURL)
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
	history := conv.history

	messages := make([]Entry, 0, history.Len()+2)
	if system := strings.TrimSpace(c.cfg.SystemPrompt); system != "" {
		messages = append(messages, Entry{Role: "system", Content: system})
	}
	messages = append(messages, history.Entries()...)
	messages = append(messages, Entry{Role: RoleUser, Content: prompt})

	body, err := json.Marshal(map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(askCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if apiKey := strings.TrimSpace(c.cfg.APIKey); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", deadlineError(askCtx, err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", deadlineError(askCtx, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Error("chat completion failed", "status", res.StatusCode, "body", strings.TrimSpace(string(respBody)))
		return "", fmt.Errorf("chat completion failed with status %d", res.StatusCode)
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyReply)
	}
	content := sanitizeModelReply(response.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}

	history.Append(RoleUser, prompt)
	history.Append(RoleAssistant, content)
	return content, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var (
	thinkBlockPattern = regexp.MustCompile(`(?is)<think\b[^>]*>.*?</think>`)
	thinkFencePattern = regexp.MustCompile("(?is)```think\\s*.*?```")
)

func sanitizeModelReply(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	trimmed = thinkBlockPattern.ReplaceAllString(trimmed, "")
	trimmed = thinkFencePattern.ReplaceAllString(trimmed, "")
	trimmed = strings.ReplaceAll(trimmed, "<think>", "")
	trimmed = strings.ReplaceAll(trimmed, "</think>", "")
	return strings.TrimSpace(trimmed)
}
