package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is a minimal Bot API client bound to one bot token.
type Client struct {
	token       string
	apiBase     string
	pollSeconds int
	httpClient  *http.Client
	limiter     *rate.Limiter
}

type ClientConfig struct {
	Token          string
	APIBase        string
	PollSeconds    int
	SendsPerSecond float64
}

func NewClient(cfg ClientConfig) *Client {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	pollSeconds := cfg.PollSeconds
	if pollSeconds < 1 {
		pollSeconds = 25
	}
	limit := rate.Inf
	if cfg.SendsPerSecond > 0 {
		limit = rate.Limit(cfg.SendsPerSecond)
	}
	return &Client{
		token:       strings.TrimSpace(cfg.Token),
		apiBase:     apiBase,
		pollSeconds: pollSeconds,
		httpClient: &http.Client{
			Timeout: time.Duration(pollSeconds+10) * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	url := fmt.Sprintf("%s?timeout=%d&offset=%d", c.endpoint("getUpdates"), c.pollSeconds, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var payload struct {
		apiResponse
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return nil, fmt.Errorf("telegram getUpdates failed: %s", strings.TrimSpace(payload.Description))
	}
	return payload.Result, nil
}

func (c *Client) GetMe(ctx context.Context) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getMe"), nil)
	if err != nil {
		return User{}, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, err
	}
	defer res.Body.Close()

	var payload struct {
		apiResponse
		Result User `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return User{}, fmt.Errorf("decode getMe: %w", err)
	}
	if !payload.OK {
		return User{}, fmt.Errorf("telegram getMe failed")
	}
	return payload.Result, nil
}

func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return c.post(ctx, "setMyCommands", map[string]any{"commands": commands})
}

// SendMessage delivers text as plain text, split into several messages when
// it exceeds the Bot API limit. Sends are paced by the client's limiter.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.post(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Publish implements bot.Sender.
func (c *Client) Publish(ctx context.Context, externalID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse telegram chat id: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.SendMessage(ctx, chatID, text)
}

func (c *Client) post(ctx context.Context, method string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, 8192))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var response apiResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return fmt.Errorf("decode %s: status=%d body=%q err=%w", method, res.StatusCode, strings.TrimSpace(string(bodyBytes)), err)
	}
	if !response.OK {
		description := strings.TrimSpace(response.Description)
		if description == "" {
			description = strings.TrimSpace(string(bodyBytes))
		}
		return fmt.Errorf("telegram %s failed: status=%d error_code=%d description=%s", method, res.StatusCode, response.ErrorCode, description)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telegram %s failed: status=%d body=%q", method, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
