// Package telegram connects one bot identity to the Telegram Bot API.
package telegram

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

const (
	greetingMessage = "Hello! Ask me anything."
	helpMessage     = "Just send me a question and I'll try to answer it."
	fallbackMessage = "Sorry, I couldn't answer that right now. Please try again in a moment."
	busyMessage     = "A conversation is already running here. Send /end to stop it."
	endedMessage    = "Conversation ended."
	nothingToEnd    = "There is no conversation running to end."

	defaultQAWorkers = 4
)

// Agent is the bot this connector speaks for.
type Agent interface {
	Name() string
	RespondTo(ctx context.Context, conversationID, prompt string) (string, error)
	SendText(ctx context.Context, conversationID, text string)
}

// Conversations starts and stops bot-to-bot group conversations.
type Conversations interface {
	Bots() []string
	Converse(ctx context.Context, groupID, initiator, prompt string) (string, error)
	Session(groupID string) (conversation.Session, bool)
	End(groupID string) bool
}

type QuotaGate interface {
	Allow(ctx context.Context, bot string) (bool, error)
}

type QALog interface {
	AppendQA(ctx context.Context, input store.AppendQAInput) (store.QARecord, error)
}

type Connector struct {
	client        *Client
	agent         Agent
	conversations Conversations
	gate          QuotaGate
	qaLog         QALog
	metrics       *metrics.Collector
	logger        *slog.Logger
	reporter      heartbeat.Reporter
	commandSync   bool
	primary       bool
	botID         int64
	botUsername   string
	mention       *regexp.Regexp
	offset        int64

	// questions bounds the private Q&A handled off the poll loop.
	questions *semaphore.Weighted
	inflight  sync.WaitGroup
}

type Option func(*Connector)

func WithCommandSync(enabled bool) Option {
	return func(connector *Connector) {
		connector.commandSync = enabled
	}
}

// WithPrimary marks the connector that answers unaddressed group commands,
// so a group with several bots gets one reply instead of one per bot.
func WithPrimary(primary bool) Option {
	return func(connector *Connector) {
		connector.primary = primary
	}
}

func WithConversations(conversations Conversations) Option {
	return func(connector *Connector) {
		connector.conversations = conversations
	}
}

func WithQALog(qaLog QALog) Option {
	return func(connector *Connector) {
		connector.qaLog = qaLog
	}
}

// WithQAWorkers caps how many questions are answered at once.
func WithQAWorkers(workers int) Option {
	return func(connector *Connector) {
		if workers > 0 {
			connector.questions = semaphore.NewWeighted(int64(workers))
		}
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(connector *Connector) {
		connector.metrics = collector
	}
}

func New(client *Client, agent Agent, gate QuotaGate, logger *slog.Logger, opts ...Option) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	connector := &Connector{
		client:      client,
		agent:       agent,
		gate:        gate,
		commandSync: true,
		questions:   semaphore.NewWeighted(defaultQAWorkers),
		logger:      logger.With("connector", "telegram", "bot", agent.Name()),
	}
	for _, opt := range opts {
		opt(connector)
	}
	return connector
}

func (c *Connector) Name() string {
	return "telegram:" + c.agent.Name()
}

func (c *Connector) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	c.reporter = reporter
}

func (c *Connector) component() string {
	return "connector:telegram:" + c.agent.Name()
}

func (c *Connector) conversationMode() bool {
	return c.conversations != nil && len(c.conversations.Bots()) >= 2
}

// setIdentity records the bot's Telegram identity and the pattern that
// strips its @mention from group prompts.
func (c *Connector) setIdentity(id int64, username string) {
	c.botID = id
	c.botUsername = strings.TrimSpace(username)
	c.mention = nil
	if c.botUsername != "" {
		c.mention = regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(c.botUsername) + `\b[:,]?`)
	}
}

func (c *Connector) isSelf(username string) bool {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return c.botUsername != "" && strings.EqualFold(username, c.botUsername)
}
