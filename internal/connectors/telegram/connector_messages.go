package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/store"
)

func (c *Connector) handleMessage(ctx context.Context, message Message) error {
	if message.From.IsBot {
		return nil
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return nil
	}
	if cmd, ok := parseCommand(text); ok {
		return c.handleCommand(ctx, message, cmd)
	}

	if message.isPrivate() {
		return c.dispatchQuestion(ctx, message, text)
	}
	if !c.isAddressed(message, text) {
		return nil
	}
	prompt := c.stripMention(text)
	if prompt == "" {
		c.agent.SendText(ctx, message.chatID(), helpMessage)
		return nil
	}
	if !c.conversationMode() {
		return c.dispatchQuestion(ctx, message, prompt)
	}
	return c.startConversation(ctx, message, prompt)
}

// isAddressed reports whether a group message mentions this bot or replies to it.
func (c *Connector) isAddressed(message Message, text string) bool {
	if message.ReplyToMessage != nil && c.botID != 0 && message.ReplyToMessage.From.ID == c.botID {
		return true
	}
	for _, entity := range message.Entities {
		if entity.Type == "text_mention" && entity.User != nil && c.botID != 0 && entity.User.ID == c.botID {
			return true
		}
	}
	if c.botUsername == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(c.botUsername))
}

func (c *Connector) stripMention(text string) string {
	if c.mention == nil {
		return strings.TrimSpace(text)
	}
	return strings.Join(strings.Fields(c.mention.ReplaceAllString(text, " ")), " ")
}

func (c *Connector) startConversation(ctx context.Context, message Message, prompt string) error {
	groupID := message.chatID()
	first, err := c.conversations.Converse(ctx, groupID, c.agent.Name(), prompt)
	if errors.Is(err, conversation.ErrSessionActive) {
		if c.startedBy(groupID, message) {
			// Another bot mentioned in the same message won the start.
			return nil
		}
		c.agent.SendText(ctx, groupID, busyMessage)
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info("conversation started",
		"group_id", groupID,
		"user_id", message.From.ID,
		"first_bot", first,
	)
	return nil
}

// startedBy reports whether the group's running session began no earlier
// than message was sent, that is, it was started by this very message.
func (c *Connector) startedBy(groupID string, message Message) bool {
	if message.Date == 0 {
		return false
	}
	session, ok := c.conversations.Session(groupID)
	if !ok {
		return false
	}
	return session.StartedAt.Unix() >= message.Date
}

// dispatchQuestion answers off the poll loop so a slow assistant never
// stalls /end or mentions. It blocks only while every worker is busy.
func (c *Connector) dispatchQuestion(ctx context.Context, message Message, question string) error {
	if err := c.questions.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.questions.Release(1)
		started := time.Now()
		if err := c.answerQuestion(ctx, message, question); err != nil {
			c.logger.Error("answer question failed", "error", err, "chat_id", message.Chat.ID, "elapsed", time.Since(started).String())
		}
	}()
	return nil
}

// answerQuestion runs one quota-gated question through the assistant.
// Questions over the daily quota are dropped without a reply.
func (c *Connector) answerQuestion(ctx context.Context, message Message, question string) error {
	bot := c.agent.Name()
	allowed, err := c.gate.Allow(ctx, bot)
	if err != nil {
		c.metrics.ObserveQuestion(bot, err)
		c.agent.SendText(ctx, message.chatID(), fallbackMessage)
		return err
	}
	if !allowed {
		return nil
	}

	answer, err := c.agent.RespondTo(ctx, message.chatID(), question)
	c.metrics.ObserveQuestion(bot, err)
	if err != nil {
		c.logger.Error("assistant reply failed", "error", err, "chat_id", message.Chat.ID)
		c.agent.SendText(ctx, message.chatID(), fallbackMessage)
		return nil
	}
	c.agent.SendText(ctx, message.chatID(), answer)

	if c.qaLog == nil {
		return nil
	}
	if _, err := c.qaLog.AppendQA(ctx, store.AppendQAInput{
		Bot:      bot,
		UserID:   strconv.FormatInt(message.From.ID, 10),
		Username: userDisplayName(message.From),
		ChatID:   message.chatID(),
		Question: question,
		Answer:   answer,
	}); err != nil {
		c.logger.Warn("qa log append failed", "error", err)
	}
	return nil
}
