package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/assistant-relay/internal/adminclient"
	"github.com/dwizi/assistant-relay/internal/config"
)

func newSessionsCommand() *cobra.Command {
	var timeoutSec int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List running group conversations via the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClientFromEnv(timeoutSec)
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(timeoutSec))
			defer cancel()

			sessions, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				cmd.Println("No conversations running.")
				return nil
			}
			for _, session := range sessions {
				cmd.Printf("%s  group=%s  initiator=%s  next=%s  turns=%d  started=%s\n",
					session.ID,
					session.GroupID,
					session.Initiator,
					session.Next,
					session.Turns,
					session.StartedAt.UTC().Format(time.RFC3339),
				)
			}
			return nil
		},
	}
	cmd.PersistentFlags().IntVar(&timeoutSec, "timeout-sec", 30, "request timeout in seconds")
	cmd.AddCommand(newSessionsEndCommand(&timeoutSec))
	return cmd
}

func newSessionsEndCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "end [--] <group-id>",
		Short: "Stop the conversation running in a group (pass -- before negative ids)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClientFromEnv(*timeoutSec)
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(*timeoutSec))
			defer cancel()

			groupID := strings.TrimSpace(args[0])
			if err := client.EndSession(ctx, groupID); err != nil {
				return err
			}
			cmd.Printf("Conversation ended in group %s\n", groupID)
			return nil
		},
	}
}

func newRunsCommand() *cobra.Command {
	var (
		groupID    string
		limit      int
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List finished group conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClientFromEnv(timeoutSec)
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(timeoutSec))
			defer cancel()

			runs, err := client.ListConversationRuns(ctx, groupID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No conversation runs recorded.")
				return nil
			}
			for _, run := range runs {
				cmd.Printf("%s  group=%s  bots=%s  turns=%d  reason=%s  ended=%s\n",
					run.ID,
					run.GroupID,
					strings.Join(run.Bots, ","),
					run.Turns,
					run.EndReason,
					run.EndedAt.UTC().Format(time.RFC3339),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "only show runs for this group id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 30, "request timeout in seconds")
	return cmd
}

func newQuotaCommand() *cobra.Command {
	var (
		botName    string
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show today's question quota per bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClientFromEnv(timeoutSec)
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(timeoutSec))
			defer cancel()

			response, err := client.Quota(ctx, botName)
			if err != nil {
				return err
			}
			cmd.Printf("Quota day: %s\n", response.Day)
			for _, item := range response.Items {
				cmd.Printf("%s  used=%d  limit=%d  remaining=%d\n", item.Bot, item.Count, item.Limit, item.Remaining)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&botName, "bot", "", "only show this bot")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 30, "request timeout in seconds")
	return cmd
}

func newQACommand() *cobra.Command {
	var (
		botName    string
		limit      int
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Show recent question and answer pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAdminClientFromEnv(timeoutSec)
			ctx, cancel := context.WithTimeout(cmd.Context(), boundedTimeout(timeoutSec))
			defer cancel()

			records, err := client.ListQA(ctx, botName, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("No questions recorded.")
				return nil
			}
			for _, record := range records {
				cmd.Printf("## %s `%s` user=%s\n", record.Bot, record.CreatedAt.UTC().Format(time.RFC3339), record.UserID)
				cmd.Printf("Q: %s\n", compactLine(record.Question, 200))
				cmd.Printf("A: %s\n\n", compactLine(record.Answer, 400))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&botName, "bot", "", "only show this bot")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 30, "request timeout in seconds")
	return cmd
}

func newAdminClientFromEnv(timeoutSec int) *adminclient.Client {
	return adminclient.New(config.FromEnv()).WithTimeout(boundedTimeout(timeoutSec))
}

func compactLine(input string, maxLen int) string {
	line := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	runes := []rune(line)
	if maxLen < 1 || len(runes) <= maxLen {
		return line
	}
	return strings.TrimSpace(string(runes[:maxLen])) + "..."
}
