package telegram

import (
	"context"
	"strings"
)

func botCommands() []BotCommand {
	return []BotCommand{
		{Command: "start", Description: "Say hello"},
		{Command: "help", Description: "How to use this bot"},
		{Command: "end", Description: "Stop the running bot conversation"},
	}
}

func (c *Connector) syncCommands(ctx context.Context) error {
	return c.client.SetMyCommands(ctx, botCommands())
}

type command struct {
	name   string
	target string
	args   string
}

// parseCommand splits "/name@bot args" into its parts.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	name, target, _ := strings.Cut(head, "@")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return command{}, false
	}
	return command{
		name:   name,
		target: strings.TrimSpace(target),
		args:   strings.TrimSpace(args),
	}, true
}

func (c *Connector) handleCommand(ctx context.Context, message Message, cmd command) error {
	addressed := cmd.target != ""
	if addressed && !c.isSelf(cmd.target) {
		return nil
	}
	private := message.isPrivate()
	// Unaddressed group commands reach every bot in the group; one answers.
	answers := private || addressed || c.primary

	switch cmd.name {
	case "start":
		if answers {
			c.agent.SendText(ctx, message.chatID(), greetingMessage)
		}
	case "help":
		if answers {
			c.agent.SendText(ctx, message.chatID(), helpMessage)
		}
	case "end":
		c.handleEnd(ctx, message, cmd, addressed)
	default:
		c.logger.Debug("ignoring unknown command", "command", cmd.name)
	}
	return nil
}

func (c *Connector) handleEnd(ctx context.Context, message Message, cmd command, addressed bool) {
	if c.conversations == nil {
		if addressed || message.isPrivate() {
			c.agent.SendText(ctx, message.chatID(), nothingToEnd)
		}
		return
	}
	groupID := message.chatID()
	if cmd.args != "" {
		groupID = cmd.args
	}
	if c.conversations.End(groupID) {
		c.logger.Info("conversation ended by command", "group_id", groupID, "user_id", message.From.ID)
		c.agent.SendText(ctx, message.chatID(), endedMessage)
		return
	}
	// Another bot may have ended it first; only a direct request hears about it.
	if addressed || message.isPrivate() {
		c.agent.SendText(ctx, message.chatID(), nothingToEnd)
	}
}
