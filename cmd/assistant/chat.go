package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xaenox/memo-assistant/internal/chat"
	"github.com/xaenox/memo-assistant/internal/memory"
	"github.com/xaenox/memo-assistant/internal/models"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant in the terminal",
		Long: `Interactive chat. Commands:
  /good     rate the last reply positively
  /bad      rate the last reply negatively
  /metrics  show the current metrics
  /quit     leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, _, cleanup, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			return runREPL(ctx, a.Session, a.Deriver.Refresh, os.Stdin, cmd.OutOrStdout())
		},
	}
}

// runREPL reads one line per turn. metricsFor reads the store, so /metrics
// also counts writes made by other instances.
func runREPL(ctx context.Context, session *chat.Session, metricsFor func(context.Context) models.Metrics, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "AI: %s\n", chat.Greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/good":
			rateLast(ctx, session, models.FeedbackPositive, out)
			continue
		case "/bad":
			rateLast(ctx, session, models.FeedbackNegative, out)
			continue
		case "/metrics":
			encoded, err := json.MarshalIndent(metricsFor(ctx), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(encoded))
			continue
		}

		turn, err := session.Send(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if turn.Failed {
			fmt.Fprintln(out, "[connection error]")
		}
		fmt.Fprintf(out, "AI: %s\n", turn.Reply)
		if turn.Warning != nil {
			fmt.Fprintf(out, "[not saved: %v]\n", turn.Warning)
		}
	}
}

func rateLast(ctx context.Context, session *chat.Session, feedback models.Feedback, out io.Writer) {
	last, ok := session.LastReply()
	if !ok {
		fmt.Fprintln(out, "Nothing to rate yet.")
		return
	}
	if err := session.Feedback(ctx, last.ConversationID, feedback); err != nil && !errors.Is(err, memory.ErrPersistence) {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Rated %s.\n", feedback)
}
