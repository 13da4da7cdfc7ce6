package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/assistant-relay/internal/app"
	"github.com/dwizi/assistant-relay/internal/assistant"
	"github.com/dwizi/assistant-relay/internal/config"
)

// newAskCommand sends one question to a configured bot's assistant without
// going through Telegram or the daily quota.
func newAskCommand(logger *slog.Logger) *cobra.Command {
	var (
		botName    string
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a configured bot's assistant a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			bots, err := cfg.Bots()
			if err != nil {
				return err
			}
			entry, err := selectBot(bots, botName)
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("question is required")
			}

			asker := assistant.New(app.AssistantConfig(cfg, entry), logger.With("component", "assistant", "bot", entry.Name))
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(timeoutSec))
			defer cancel()

			started := time.Now()
			answer, err := asker.Ask(ctx, "cli", question)
			if err != nil {
				return fmt.Errorf("ask %s: %w", entry.Name, err)
			}
			cmd.Printf("[%s] %s\n", entry.Name, answer)
			logger.Debug("ask completed", "bot", entry.Name, "elapsed", time.Since(started).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&botName, "bot", "", "bot name (defaults to the first configured bot)")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 120, "request timeout in seconds")
	return cmd
}

func selectBot(bots []config.Bot, name string) (config.Bot, error) {
	if len(bots) == 0 {
		return config.Bot{}, config.ErrNoBots
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return bots[0], nil
	}
	for _, entry := range bots {
		if strings.EqualFold(entry.Name, name) {
			return entry, nil
		}
	}
	return config.Bot{}, fmt.Errorf("unknown bot %q", name)
}

func boundedTimeout(input int) time.Duration {
	if input < 1 {
		input = 120
	}
	if input > 600 {
		input = 600
	}
	return time.Duration(input) * time.Second
}
