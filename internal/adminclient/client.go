package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dwizi/assistant-relay/internal/config"
	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/store"
)

// ErrNothingToEnd is returned by EndSession when the group has no running
// conversation.
var ErrNothingToEnd = errors.New("no conversation running")

type Client struct {
	baseURL string
	http    *http.Client
}

type QuotaItem struct {
	Bot       string `json:"bot"`
	Day       string `json:"day"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

type QuotaResponse struct {
	Day   string      `json:"day"`
	Items []QuotaItem `json:"items"`
	Count int         `json:"count"`
}

type ListSessionsResponse struct {
	Items []conversation.Session `json:"items"`
	Count int                    `json:"count"`
}

type ListConversationRunsResponse struct {
	Items []store.ConversationRun `json:"items"`
	Count int                     `json:"count"`
}

type ListQAResponse struct {
	Items []store.QARecord `json:"items"`
	Count int              `json:"count"`
}

func New(cfg config.Config) *Client {
	timeout := time.Duration(cfg.AdminHTTPTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.AdminAPIURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	if timeout < time.Second {
		return c
	}
	clone := *c
	if c.http == nil {
		clone.http = &http.Client{Timeout: timeout}
		return &clone
	}
	httpClone := *c.http
	httpClone.Timeout = timeout
	clone.http = &httpClone
	return &clone
}

func (c *Client) ListSessions(ctx context.Context) ([]conversation.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var response ListSessionsResponse
	if err := c.doJSON(req, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) EndSession(ctx context.Context, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}
	requestBody, err := json.Marshal(map[string]string{"group_id": groupID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sessions/end", bytes.NewReader(requestBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	err = c.doJSON(req, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w in group %s", ErrNothingToEnd, groupID)
	}
	return err
}

func (c *Client) ListConversationRuns(ctx context.Context, groupID string, limit int) ([]store.ConversationRun, error) {
	query := url.Values{}
	if groupID = strings.TrimSpace(groupID); groupID != "" {
		query.Set("group_id", groupID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/conversations", query), nil)
	if err != nil {
		return nil, err
	}
	var response ListConversationRunsResponse
	if err := c.doJSON(req, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) Quota(ctx context.Context, bot string) (QuotaResponse, error) {
	query := url.Values{}
	if bot = strings.TrimSpace(bot); bot != "" {
		query.Set("bot", bot)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/quota", query), nil)
	if err != nil {
		return QuotaResponse{}, err
	}
	var response QuotaResponse
	if err := c.doJSON(req, &response); err != nil {
		return QuotaResponse{}, err
	}
	return response, nil
}

func (c *Client) ListQA(ctx context.Context, bot string, limit int) ([]store.QARecord, error) {
	query := url.Values{}
	if bot = strings.TrimSpace(bot); bot != "" {
		query.Set("bot", bot)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/qa", query), nil)
	if err != nil {
		return nil, err
	}
	var response ListQAResponse
	if err := c.doJSON(req, &response); err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	if len(query) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + query.Encode()
}

// StatusError carries a non-2xx response from the relay API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiError)
		if strings.TrimSpace(apiError.Error) == "" {
			apiError.Error = res.Status
		}
		return &StatusError{Code: res.StatusCode, Message: apiError.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
