package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dwizi/assistant-relay/internal/assistant"
	"github.com/dwizi/assistant-relay/internal/metrics"
)

var ErrDelivery = errors.New("message delivery failed")

// Identity is fixed at process start and never mutated.
type Identity struct {
	Name         string
	Token        string
	AssistantID  string
	SystemPrompt string
}

// Sender delivers text to a chat on behalf of one bot.
type Sender interface {
	Publish(ctx context.Context, externalID, text string) error
}

type Agent struct {
	identity Identity
	asker    assistant.Asker
	sender   Sender
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewAgent(identity Identity, asker assistant.Asker, sender Sender, collector *metrics.Collector, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		identity: identity,
		asker:    asker,
		sender:   sender,
		metrics:  collector,
		logger:   logger.With("bot", identity.Name),
	}
}

func (a *Agent) Name() string {
	return a.identity.Name
}

// RespondTo asks the bot's assistant within conversationID, the chat or
// group whose upstream context the answer belongs to.
func (a *Agent) RespondTo(ctx context.Context, conversationID, prompt string) (string, error) {
	if a.asker == nil {
		return "", assistant.ErrUnavailable
	}
	started := time.Now()
	reply, err := a.asker.Ask(ctx, conversationID, prompt)
	a.metrics.ObserveAssistant(a.identity.Name, time.Since(started), err)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", assistant.ErrEmptyReply
	}
	return reply, nil
}

// SendText never returns an error; failures are logged and counted.
func (a *Agent) SendText(ctx context.Context, conversationID, text string) {
	if err := a.deliver(ctx, conversationID, text); err != nil {
		a.metrics.DeliveryFailed(a.identity.Name)
		a.logger.Warn("send failed", "chat_id", conversationID, "error", err)
	}
}

func (a *Agent) deliver(ctx context.Context, conversationID, text string) error {
	if a.sender == nil {
		return fmt.Errorf("%w: no sender attached", ErrDelivery)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrDelivery)
	}
	if err := a.sender.Publish(ctx, conversationID, text); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
