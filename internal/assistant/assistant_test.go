package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHistoryEvictsOldestEntries(t *testing.T) {
	history := NewHistory(3)
	for _, content := range []string{"one", "two", "three", "four", "  "} {
		history.Append(RoleUser, content)
	}
	entries := history.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Content != "two" || entries[2].Content != "four" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestNewHistoryDefaultsLimit(t *testing.T) {
	history := NewHistory(0)
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		history.Append(RoleAssistant, "reply")
	}
	if history.Len() != DefaultHistoryLimit {
		t.Fatalf("expected %d entries, got %d", DefaultHistoryLimit, history.Len())
	}
}

func TestNewSelectsBackendByMode(t *testing.T) {
	if _, ok := New(Config{Mode: "chat"}, testLogger()).(*ChatClient); !ok {
		t.Fatalf("expected chat client for chat mode")
	}
	if _, ok := New(Config{}, testLogger()).(*AssistantsClient); !ok {
		t.Fatalf("expected assistants client by default")
	}
}

func TestChatAskSendsHistoryAndStripsThinking(t *testing.T) {
	var mu sync.Mutex
	var requests [][]Entry
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer auth, got %q", req.Header.Get("Authorization"))
		}
		var body struct {
			Messages []Entry `json:"messages"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		requests = append(requests, body.Messages)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "<think>hmm</think> answer"}},
			},
		})
	}))
	defer server.Close()

	client := NewChatClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		SystemPrompt: "be brief",
	}, testLogger())

	for _, prompt := range []string{"first", "second"} {
		reply, err := client.Ask(context.Background(), "chat-1", prompt)
		if err != nil {
			t.Fatalf("ask failed: %v", err)
		}
		if reply != "answer" {
			t.Fatalf("unexpected reply: %q", reply)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	second := requests[1]
	if len(second) != 4 {
		t.Fatalf("expected system + 2 history + prompt, got %+v", second)
	}
	if second[0].Role != "system" || second[1].Content != "first" || second[2].Content != "answer" || second[3].Content != "second" {
		t.Fatalf("unexpected second request: %+v", second)
	}
}

func TestChatAskEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "<think>only thoughts</think>"}},
			},
		})
	}))
	defer server.Close()

	client := NewChatClient(Config{APIKey: "secret", BaseURL: server.URL}, testLogger())
	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected empty reply error, got %v", err)
	}
	if client.History("chat-1").Len() != 0 {
		t.Fatalf("failed asks must not touch history")
	}
}

func TestChatAskTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewChatClient(Config{
		APIKey:  "secret",
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
	}, testLogger())
	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
}

func TestChatAskRequiresAPIKey(t *testing.T) {
	client := NewChatClient(Config{BaseURL: "https://api.example.com/v1"}, testLogger())
	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

type fakeAssistantsAPI struct {
	t           *testing.T
	mu          sync.Mutex
	threads     int
	seeded      []int
	runPolls    int
	finalStatus string
	reply       string
	pollsBefore int
	cancelled   int
}

func (f *fakeAssistantsAPI) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Header.Get("OpenAI-Beta") != "assistants=v2" {
		f.t.Errorf("missing assistants beta header on %s", req.URL.Path)
	}
	path := req.URL.Path
	switch {
	case req.Method == http.MethodPost && path == "/threads":
		var body struct {
			Messages []Entry `json:"messages"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.threads++
		f.seeded = append(f.seeded, len(body.Messages))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "thread_1"})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg_user"})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/cancel"):
		f.cancelled++
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "status": "cancelling"})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/runs"):
		var body struct {
			AssistantID string `json:"assistant_id"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if body.AssistantID != "asst_1" {
			f.t.Errorf("unexpected assistant id: %s", body.AssistantID)
		}
		f.runPolls = 0
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "status": "queued"})
	case req.Method == http.MethodGet && strings.Contains(path, "/runs/"):
		f.runPolls++
		status := "in_progress"
		if f.runPolls > f.pollsBefore {
			status = f.finalStatus
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "run_1", "status": status})
	case req.Method == http.MethodGet && strings.HasSuffix(path, "/messages"):
		if req.URL.Query().Get("order") != "desc" {
			f.t.Errorf("expected newest-first listing")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id":   "msg_reply",
					"role": "assistant",
					"content": []map[string]any{
						{"type": "text", "text": map[string]any{"value": f.reply}},
					},
				},
			},
		})
	default:
		f.t.Errorf("unexpected request %s %s", req.Method, path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAssistantsAskPollsUntilCompleted(t *testing.T) {
	api := &fakeAssistantsAPI{t: t, finalStatus: "completed", reply: "forty-two", pollsBefore: 2}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 5 * time.Millisecond,
	}, testLogger())

	for i := 0; i < 2; i++ {
		reply, err := client.Ask(context.Background(), "chat-1", "meaning of life?")
		if err != nil {
			t.Fatalf("ask failed: %v", err)
		}
		if reply != "forty-two" {
			t.Fatalf("unexpected reply: %q", reply)
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.threads != 1 {
		t.Fatalf("expected thread reuse, got %d threads", api.threads)
	}
	if client.History("chat-1").Len() != 4 {
		t.Fatalf("expected 4 history entries, got %d", client.History("chat-1").Len())
	}
}

func TestAssistantsAskRunFailedDropsThread(t *testing.T) {
	api := &fakeAssistantsAPI{t: t, finalStatus: "failed", reply: "unused"}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 5 * time.Millisecond,
	}, testLogger())

	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected run failed, got %v", err)
	}

	api.mu.Lock()
	api.finalStatus = "completed"
	api.reply = "recovered"
	api.mu.Unlock()

	reply, err := client.Ask(context.Background(), "chat-1", "hello again")
	if err != nil {
		t.Fatalf("ask after failure: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.threads != 2 {
		t.Fatalf("expected a fresh thread after failure, got %d", api.threads)
	}
}

func TestAssistantsAskSeedsNewThreadWithHistory(t *testing.T) {
	api := &fakeAssistantsAPI{t: t, finalStatus: "completed", reply: "ok"}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 5 * time.Millisecond,
	}, testLogger())
	client.History("chat-1").Append(RoleUser, "earlier question")
	client.History("chat-1").Append(RoleAssistant, "earlier answer")

	if _, err := client.Ask(context.Background(), "chat-1", "next"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.seeded) != 1 || api.seeded[0] != 2 {
		t.Fatalf("expected thread seeded with 2 entries, got %v", api.seeded)
	}
}

func TestAssistantsAskTimeoutCancelsRun(t *testing.T) {
	api := &fakeAssistantsAPI{t: t, finalStatus: "in_progress", reply: "late", pollsBefore: 1 << 20}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
	}, testLogger())

	_, err := client.Ask(context.Background(), "chat-1", "slow question")
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout, got %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.cancelled == 0 {
		t.Fatalf("expected run cancellation on timeout")
	}
}

func TestAssistantsAskEmptyReply(t *testing.T) {
	api := &fakeAssistantsAPI{t: t, finalStatus: "completed", reply: "   "}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 5 * time.Millisecond,
	}, testLogger())
	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected empty reply, got %v", err)
	}
}

func TestAssistantsAskRequiresAssistantID(t *testing.T) {
	client := NewAssistantsClient(Config{APIKey: "secret"}, testLogger())
	_, err := client.Ask(context.Background(), "chat-1", "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

// slowAssistantsAPI completes every run a fixed time after it is created
// and hands out a distinct thread per create call.
type slowAssistantsAPI struct {
	runTime time.Duration

	mu      sync.Mutex
	threads int
	runs    map[string]time.Time
}

func (f *slowAssistantsAPI) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := req.URL.Path
	switch {
	case req.Method == http.MethodPost && path == "/threads":
		f.threads++
		_ = json.NewEncoder(w).Encode(map[string]any{"id": fmt.Sprintf("thread_%d", f.threads)})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg_user"})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/cancel"):
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "cancelling"})
	case req.Method == http.MethodPost && strings.HasSuffix(path, "/runs"):
		id := fmt.Sprintf("run_%d", len(f.runs)+1)
		f.runs[id] = time.Now()
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "queued"})
	case req.Method == http.MethodGet && strings.Contains(path, "/runs/"):
		id := path[strings.LastIndex(path, "/")+1:]
		status := "in_progress"
		if time.Since(f.runs[id]) >= f.runTime {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "status": status})
	case req.Method == http.MethodGet && strings.HasSuffix(path, "/messages"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"role": "assistant", "content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "done"}},
				}},
			},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAssistantsAskConversationsDoNotBlockEachOther(t *testing.T) {
	api := &slowAssistantsAPI{runTime: 300 * time.Millisecond, runs: map[string]time.Time{}}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	groups := []string{"-100", "-200", "-300"}
	errs := make(chan error, len(groups))
	for _, groupID := range groups {
		go func(groupID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
			defer cancel()
			_, err := client.Ask(ctx, groupID, "your turn")
			if err != nil {
				err = fmt.Errorf("%s: %w", groupID, err)
			}
			errs <- err
		}(groupID)
	}
	for range groups {
		if err := <-errs; err != nil {
			t.Fatalf("expected every group to answer within its own budget: %v", err)
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.threads != len(groups) {
		t.Fatalf("expected one thread per group, got %d", api.threads)
	}
	for _, groupID := range groups {
		if client.History(groupID).Len() != 2 {
			t.Fatalf("expected isolated history for %s, got %d entries", groupID, client.History(groupID).Len())
		}
	}
}

func TestAssistantsAskWaitingOnBusyConversationTimesOut(t *testing.T) {
	api := &slowAssistantsAPI{runTime: 300 * time.Millisecond, runs: map[string]time.Time{}}
	server := httptest.NewServer(api)
	defer server.Close()

	client := NewAssistantsClient(Config{
		APIKey:       "secret",
		BaseURL:      server.URL,
		AssistantID:  "asst_1",
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	first := make(chan error, 1)
	go func() {
		_, err := client.Ask(context.Background(), "-100", "first")
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := client.Ask(ctx, "-100", "second")
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("expected upstream timeout while waiting, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 250*time.Millisecond {
		t.Fatalf("expected wait to honour the caller deadline, took %s", elapsed)
	}
	if err := <-first; err != nil {
		t.Fatalf("first ask: %v", err)
	}
}

func TestConversationSetEvictsIdleEntries(t *testing.T) {
	set := newConversationSet(4)
	pinned := set.checkout("pinned")
	for i := 0; i < maxConversations+10; i++ {
		set.checkin(set.checkout(fmt.Sprintf("chat-%d", i)))
	}
	if got := set.len(); got > maxConversations {
		t.Fatalf("expected at most %d conversations, got %d", maxConversations, got)
	}
	if again := set.checkout("pinned"); again != pinned {
		t.Fatalf("expected checked-out conversation to survive eviction")
	}
}
