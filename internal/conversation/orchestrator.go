package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionActive = errors.New("conversation already active")
	ErrNotEnoughBots = errors.New("conversation needs at least two bots")
	ErrUnknownBot    = errors.New("unknown bot")
	ErrNoSession     = errors.New("no active conversation")
	ErrDuplicateBot  = errors.New("duplicate bot name")
	ErrEmptyReply    = errors.New("bot produced an empty reply")
)

const (
	ReasonEnded      = "ended"
	ReasonTurnFailed = "turn_failed"
	ReasonShutdown   = "shutdown"
)

// Agent is the slice of a bot the orchestrator drives.
type Agent interface {
	Name() string
	RespondTo(ctx context.Context, conversationID, prompt string) (string, error)
	SendText(ctx context.Context, conversationID, text string)
}

// Session is a point-in-time copy of a group's conversation.
type Session struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Initiator string    `json:"initiator"`
	Order     []string  `json:"order"`
	Cursor    int       `json:"cursor"`
	Next      string    `json:"next"`
	StartedAt time.Time `json:"started_at"`
	Turns     int       `json:"turns"`
}

type TurnResult struct {
	Bot     string
	Reply   string
	Elapsed time.Duration
	Delay   time.Duration
}

type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventTurnCompleted  EventKind = "turn_completed"
	EventSessionEnded   EventKind = "session_ended"
)

type Event struct {
	Kind    EventKind
	Session Session
	Prompt  string
	Turn    TurnResult
	Err     error
	Reason  string
}

// Observer is called synchronously from the goroutine that caused the event.
type Observer func(Event)

type Options struct {
	Pacing      Pacing
	TurnTimeout time.Duration
	Observers   []Observer
}

type session struct {
	id        string
	groupID   string
	initiator string
	cursor    int
	startedAt time.Time
	turns     int
	done      chan struct{}
}

type group struct {
	mu      sync.Mutex
	session *session
}

type Orchestrator struct {
	agents      []Agent
	index       map[string]int
	pacing      Pacing
	turnTimeout time.Duration
	observers   []Observer
	logger      *slog.Logger

	// mu guards only the groups map; session state lives under group.mu.
	mu     sync.Mutex
	groups map[string]*group

	wg sync.WaitGroup
}

// New registers agents in speaking order. Names must be unique.
func New(agents []Agent, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index := make(map[string]int, len(agents))
	for i, agent := range agents {
		name := agent.Name()
		if _, exists := index[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBot, name)
		}
		index[name] = i
	}
	if opts.Pacing == (Pacing{}) {
		opts.Pacing = DefaultPacing()
	}
	return &Orchestrator{
		agents:      append([]Agent(nil), agents...),
		index:       index,
		pacing:      opts.Pacing,
		turnTimeout: opts.TurnTimeout,
		observers:   append([]Observer(nil), opts.Observers...),
		logger:      logger,
		groups:      map[string]*group{},
	}, nil
}

func (o *Orchestrator) Bots() []string {
	names := make([]string, len(o.agents))
	for i, agent := range o.agents {
		names[i] = agent.Name()
	}
	return names
}

func (o *Orchestrator) Pacing() Pacing {
	return o.pacing
}

// Start opens a session for groupID and returns the bot that speaks first:
// the one registered right after the initiator.
func (o *Orchestrator) Start(groupID, initiator string) (string, bool) {
	_, _, agent, err := o.start(groupID, initiator, "")
	if err != nil {
		o.logger.Debug("conversation not started", "group_id", groupID, "initiator", initiator, "error", err)
		return "", false
	}
	return agent.Name(), true
}

func (o *Orchestrator) start(groupID, initiator, prompt string) (*group, *session, Agent, error) {
	if len(o.agents) < 2 {
		return nil, nil, nil, ErrNotEnoughBots
	}
	position, ok := o.index[initiator]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownBot, initiator)
	}

	g := o.group(groupID)
	g.mu.Lock()
	if g.session != nil {
		g.mu.Unlock()
		return nil, nil, nil, ErrSessionActive
	}
	s := &session{
		id:        uuid.NewString(),
		groupID:   groupID,
		initiator: initiator,
		cursor:    (position + 1) % len(o.agents),
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	g.session = s
	snapshot := o.snapshot(s)
	g.mu.Unlock()

	o.logger.Info("conversation started", "group_id", groupID, "session_id", s.id, "initiator", initiator, "first", snapshot.Next)
	o.notify(Event{Kind: EventSessionStarted, Session: snapshot, Prompt: prompt})
	return g, s, o.agents[snapshot.Cursor], nil
}

// End stops the group's conversation. It reports false when nothing was active.
func (o *Orchestrator) End(groupID string) bool {
	g := o.lookup(groupID)
	if g == nil {
		return false
	}
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return false
	}
	return o.endSession(g, s, ReasonEnded)
}

func (o *Orchestrator) endSession(g *group, s *session, reason string) bool {
	g.mu.Lock()
	if g.session != s {
		g.mu.Unlock()
		return false
	}
	g.session = nil
	close(s.done)
	snapshot := o.snapshot(s)
	g.mu.Unlock()

	o.logger.Info("conversation ended", "group_id", s.groupID, "session_id", s.id, "reason", reason, "turns", snapshot.Turns)
	o.notify(Event{Kind: EventSessionEnded, Session: snapshot, Reason: reason})
	return true
}

func (o *Orchestrator) IsActive(groupID string) bool {
	g := o.lookup(groupID)
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil
}

func (o *Orchestrator) Session(groupID string) (Session, bool) {
	g := o.lookup(groupID)
	if g == nil {
		return Session{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return Session{}, false
	}
	return o.snapshot(g.session), true
}

// Sessions lists active conversations ordered by group id.
func (o *Orchestrator) Sessions() []Session {
	o.mu.Lock()
	groups := make([]*group, 0, len(o.groups))
	for _, g := range o.groups {
		groups = append(groups, g)
	}
	o.mu.Unlock()

	out := make([]Session, 0, len(groups))
	for _, g := range groups {
		g.mu.Lock()
		if g.session != nil {
			out = append(out, o.snapshot(g.session))
		}
		g.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GroupID < out[j].GroupID
	})
	return out
}

// HandleTurn advances the cursor and lets that bot answer message.
// A failed answer ends the session.
func (o *Orchestrator) HandleTurn(ctx context.Context, groupID, message string) (TurnResult, error) {
	g := o.lookup(groupID)
	if g == nil {
		return TurnResult{}, ErrNoSession
	}
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return TurnResult{}, ErrNoSession
	}
	return o.handleTurn(ctx, g, s, message)
}

func (o *Orchestrator) handleTurn(ctx context.Context, g *group, s *session, message string) (TurnResult, error) {
	g.mu.Lock()
	if g.session != s {
		g.mu.Unlock()
		return TurnResult{}, ErrNoSession
	}
	s.cursor = (s.cursor + 1) % len(o.agents)
	agent := o.agents[s.cursor]
	g.mu.Unlock()

	return o.takeTurn(ctx, g, s, agent, message)
}

// takeTurn runs outside the group lock so End stays responsive while the
// assistant is thinking.
func (o *Orchestrator) takeTurn(ctx context.Context, g *group, s *session, agent Agent, message string) (TurnResult, error) {
	turnCtx := ctx
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := agent.RespondTo(turnCtx, s.groupID, message)
	result := TurnResult{Bot: agent.Name(), Elapsed: time.Since(started)}
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		g.mu.Lock()
		snapshot := o.snapshot(s)
		g.mu.Unlock()
		o.logger.Warn("conversation turn failed", "group_id", s.groupID, "session_id", s.id, "bot", result.Bot, "error", err)
		o.notify(Event{Kind: EventTurnCompleted, Session: snapshot, Turn: result, Err: err})
		reason := ReasonTurnFailed
		if ctx.Err() != nil {
			reason = ReasonShutdown
		}
		o.endSession(g, s, reason)
		return result, fmt.Errorf("turn by %s: %w", result.Bot, err)
	}

	result.Reply = reply
	result.Delay = o.pacing.Delay(result.Elapsed)
	agent.SendText(ctx, s.groupID, reply)

	g.mu.Lock()
	s.turns++
	snapshot := o.snapshot(s)
	g.mu.Unlock()

	o.logger.Debug("conversation turn", "group_id", s.groupID, "bot", result.Bot, "elapsed", result.Elapsed, "delay", result.Delay)
	o.notify(Event{Kind: EventTurnCompleted, Session: snapshot, Turn: result})
	return result, nil
}

func (o *Orchestrator) group(groupID string) *group {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.groups[groupID]
	if !ok {
		g = &group{}
		o.groups[groupID] = g
	}
	return g
}

func (o *Orchestrator) lookup(groupID string) *group {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.groups[groupID]
}

// snapshot must be called with the owning group's lock held.
func (o *Orchestrator) snapshot(s *session) Session {
	order := o.Bots()
	return Session{
		ID:        s.id,
		GroupID:   s.groupID,
		Initiator: s.initiator,
		Order:     order,
		Cursor:    s.cursor,
		Next:      order[s.cursor],
		StartedAt: s.startedAt,
		Turns:     s.turns,
	}
}

func (o *Orchestrator) notify(event Event) {
	for _, observer := range o.observers {
		observer(event)
	}
}
