package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/txlens/txlens/pkg/pipeline"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and answer the confirmation prompts interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, err := cmd.Flags().GetBool("yes")
			if err != nil {
				return fmt.Errorf("failed to get yes flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return converse(ctx, a.pipeline, strings.Join(args, " "), yes, os.Stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "run the interpreted query without asking")
	return cmd
}

// Conversation is the part of pipeline.Pipeline an interactive session uses.
type Conversation interface {
	Ask(ctx context.Context, req pipeline.AskRequest) (*pipeline.Answer, error)
	Reply(ctx context.Context, conversationID, text string) (*pipeline.Answer, error)
}

// converse asks question and keeps replying with lines from in until the
// conversation stops waiting on the user or in is exhausted. With autoConfirm
// a confirmation prompt is answered with "confirm".
func converse(ctx context.Context, p Conversation, question string, autoConfirm bool, in io.Reader, out io.Writer) error {
	answer, err := p.Ask(ctx, pipeline.AskRequest{Question: question})
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintln(out, answer.Text())
		var reply string
		switch answer.Status {
		case pipeline.StatusAnswered, pipeline.StatusError:
			return nil
		case pipeline.StatusAwaitingConfirmation:
			if autoConfirm {
				reply = "confirm"
			}
		}
		if reply == "" {
			fmt.Fprint(out, "\n> ")
			for reply == "" {
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				reply = strings.TrimSpace(scanner.Text())
			}
		}
		fmt.Fprintln(out)
		answer, err = p.Reply(ctx, answer.ConversationID, reply)
		if err != nil {
			return err
		}
	}
}
