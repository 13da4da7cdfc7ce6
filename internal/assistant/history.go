package assistant

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// maxConversations caps the per-chat state a client keeps; idle
	// conversations are evicted least recently used first.
	maxConversations = 512
)

type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History keeps the most recent exchanged turns, oldest evicted first.
type History struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

func (h *History) Append(role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Role: role, Content: content})
	if overflow := len(h.entries) - h.limit; overflow > 0 {
		h.entries = append([]Entry(nil), h.entries[overflow:]...)
	}
}

func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Entry(nil), h.entries...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// conversation is the state one chat owns inside a client. turn is held
// for a whole Ask so asks within a chat stay ordered while different
// chats never wait on each other.
type conversation struct {
	turn     *semaphore.Weighted
	history  *History
	threadID string

	refs     int
	lastUsed time.Time
}

func (c *conversation) acquire(ctx context.Context) error {
	return c.turn.Acquire(ctx, 1)
}

func (c *conversation) release() {
	c.turn.Release(1)
}

type conversationSet struct {
	mu           sync.Mutex
	historyLimit int
	items        map[string]*conversation
}

func newConversationSet(historyLimit int) *conversationSet {
	return &conversationSet{
		historyLimit: historyLimit,
		items:        map[string]*conversation{},
	}
}

// checkout returns the state for id and pins it against eviction until
// checkin is called.
func (s *conversationSet) checkout(id string) *conversation {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		if len(s.items) >= maxConversations {
			s.evictLocked()
		}
		item = &conversation{
			turn:    semaphore.NewWeighted(1),
			history: NewHistory(s.historyLimit),
		}
		s.items[id] = item
	}
	item.refs++
	item.lastUsed = time.Now()
	return item
}

func (s *conversationSet) checkin(item *conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.refs--
}

func (s *conversationSet) evictLocked() {
	var (
		oldestID string
		oldest   *conversation
	)
	for id, item := range s.items {
		if item.refs > 0 {
			continue
		}
		if oldest == nil || item.lastUsed.Before(oldest.lastUsed) {
			oldestID, oldest = id, item
		}
	}
	if oldest != nil {
		delete(s.items, oldestID)
	}
}

func (s *conversationSet) history(id string) *History {
	item := s.checkout(id)
	defer s.checkin(item)
	return item.history
}

func (s *conversationSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
