package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cobra"
)

type BatchCmd struct{}

func NewBatchCmd() *BatchCmd {
	return &BatchCmd{}
}

func (c *BatchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Answer one question per line of a file (or - for stdin), running confirmed queries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open questions: %w", err)
				}
				defer f.Close()
				in = f
			}
			questions, err := readQuestions(in)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			outputs, err := runBatch(ctx, a.pipeline, questions, a.cfg.Workers)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, q := range questions {
				fmt.Fprintf(out, "## %s\n\n%s\n", q, outputs[i])
			}
			return nil
		},
	}
	return cmd
}

// readQuestions returns the non-blank lines of r that are not # comments.
func readQuestions(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return out, nil
}

// runBatch answers questions concurrently on at most workers goroutines.
// Outputs are in question order; a failed question yields its error text.
func runBatch(ctx context.Context, p Conversation, questions []string, workers int) ([]string, error) {
	pool := pond.NewResultPool[string](workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, q := range questions {
		group.Submit(func() string {
			var buf bytes.Buffer
			if err := converse(ctx, p, q, true, strings.NewReader(""), &buf); err != nil {
				return "Error: " + err.Error()
			}
			return strings.TrimSpace(buf.String())
		})
	}
	return group.Wait()
}
