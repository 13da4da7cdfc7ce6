package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dwizi/assistant-relay/internal/assistant"
	"github.com/dwizi/assistant-relay/internal/conversation"
)

type lockedSender struct {
	mu    sync.Mutex
	count int
}

func (l *lockedSender) Publish(ctx context.Context, externalID, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return nil
}

// timedRunsServer completes every Assistants run runTime after creation.
func timedRunsServer(t *testing.T, runTime time.Duration) *httptest.Server {
	t.Helper()
	var (
		mu      sync.Mutex
		threads int
		runs    = map[string]time.Time{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path := req.URL.Path
		switch {
		case req.Method == http.MethodPost && path == "/threads":
			threads++
			_ = json.NewEncoder(w).Encode(map[string]any{"id": fmt.Sprintf("thread_%d", threads)})
		case req.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "msg"})
		case req.Method == http.MethodPost && strings.HasSuffix(path, "/cancel"):
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "cancelling"})
		case req.Method == http.MethodPost && strings.HasSuffix(path, "/runs"):
			id := fmt.Sprintf("run_%d", len(runs)+1)
			runs[id] = time.Now()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "status": "queued"})
		case req.Method == http.MethodGet && strings.Contains(path, "/runs/"):
			id := path[strings.LastIndex(path, "/")+1:]
			status := "in_progress"
			if time.Since(runs[id]) >= runTime {
				status = "completed"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "status": status})
		case req.Method == http.MethodGet && strings.HasSuffix(path, "/messages"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"role": "assistant", "content": []map[string]any{
						{"type": "text", "text": map[string]any{"value": "my turn"}},
					}},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSharedBotServesSeveralGroupsWithinTurnBudget(t *testing.T) {
	server := timedRunsServer(t, 300*time.Millisecond)
	senders := map[string]*lockedSender{"A": {}, "B": {}}
	newAgent := func(name string) *Agent {
		asker := assistant.NewAssistantsClient(assistant.Config{
			APIKey:       "secret",
			BaseURL:      server.URL,
			AssistantID:  "asst_" + name,
			PollInterval: 10 * time.Millisecond,
		}, testLogger())
		return NewAgent(Identity{Name: name}, asker, senders[name], nil, testLogger())
	}

	var (
		mu     sync.Mutex
		failed []error
	)
	orchestrator, err := conversation.New([]conversation.Agent{newAgent("A"), newAgent("B")}, conversation.Options{
		Pacing:      conversation.Pacing{MinTurnDelay: time.Hour, TargetTurnPeriod: time.Hour},
		TurnTimeout: 500 * time.Millisecond,
		Observers: []conversation.Observer{func(event conversation.Event) {
			if event.Kind == conversation.EventTurnCompleted && event.Err != nil {
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", event.Session.GroupID, event.Err))
				mu.Unlock()
			}
		}},
	}, testLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	groups := []string{"-1", "-2", "-3"}
	for _, groupID := range groups {
		if first, err := orchestrator.Converse(context.Background(), groupID, "B", "hello"); err != nil || first != "A" {
			t.Fatalf("converse in %s: first=%q err=%v", groupID, first, err)
		}
	}
	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	failures := append([]error(nil), failed...)
	mu.Unlock()
	if len(failures) != 0 {
		t.Fatalf("expected no failed turns, got %v", failures)
	}
	for _, groupID := range groups {
		if !orchestrator.IsActive(groupID) {
			t.Fatalf("expected %s to stay active", groupID)
		}
		orchestrator.End(groupID)
	}
	orchestrator.Wait()

	senders["A"].mu.Lock()
	defer senders["A"].mu.Unlock()
	if senders["A"].count != len(groups) {
		t.Fatalf("expected A to speak once in every group, got %d", senders["A"].count)
	}
}
