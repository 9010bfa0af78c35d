package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/docrag/pkg/rag"
	"github.com/xhad/docrag/pkg/relay"
)

func ingestCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload a PDF and print its session id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			res, err := ingest(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			fmt.Println(res.SessionID)
			return nil
		},
	}
}

func askCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <session-id> <question>",
		Short: "Ask a question about an ingested document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			question := strings.Join(args[1:], " ")
			return ask(cmd.Context(), client, opts.stream, args[0], question)
		},
	}
}

func summarizeCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <session-id>",
		Short: "Summarize an ingested document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			return summarize(cmd.Context(), client, opts.stream, args[0])
		},
	}
}

func chatCMD(opts *options) *cobra.Command {
	var sessionID string
	var keep bool

	var chat = &cobra.Command{
		Use:   "chat [file.pdf]",
		Short: "Upload a PDF and chat with it interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 {
				res, err := ingest(ctx, client, args[0])
				if err != nil {
					return err
				}
				sessionID = res.SessionID
				if !keep {
					defer func() {
						if _, err := client.CloseSession(context.Background(), sessionID); err != nil {
							color.Red("Failed to close session: %v", err)
						}
					}()
				}
			}
			if sessionID == "" {
				return fmt.Errorf("pass a PDF to upload or --session to resume")
			}

			return repl(ctx, client, opts.stream, sessionID)
		},
	}
	chat.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	chat.Flags().BoolVar(&keep, "keep", false, "keep the session open on exit")
	return chat
}

func healthCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			color.Green("✓ Backend is up (%d active sessions)", h.Sessions)
			return nil
		},
	}
}

func closeCMD(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session and release its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			closed, err := client.CloseSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !closed {
				color.Yellow("Session %s was not open", args[0])
				return nil
			}
			color.Green("✓ Session closed")
			return nil
		},
	}
}

func ingest(ctx context.Context, client *relay.Client, path string) (rag.IngestResult, error) {
	var res rag.IngestResult
	err := withSpinner(" Processing PDF...", func() error {
		var err error
		res, err = client.Ingest(ctx, path)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("failed to process %s: %w", path, err)
	}
	color.Green("%s (%d pages, %d chunks)", res.Status, res.Pages, res.Chunks)
	return res, nil
}

func ask(ctx context.Context, client *relay.Client, stream bool, sessionID, question string) error {
	if !stream {
		var answer string
		err := withSpinner(" Generating response...", func() error {
			var err error
			answer, err = client.Chat(ctx, sessionID, question)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	reader, err := client.ChatStream(ctx, sessionID, question)
	if err != nil {
		return err
	}
	return render(reader)
}

func summarize(ctx context.Context, client *relay.Client, stream bool, sessionID string) error {
	if !stream {
		var summary string
		err := withSpinner(" Summarizing...", func() error {
			var err error
			summary, err = client.Summarize(ctx, sessionID)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Println(summary)
		return nil
	}

	reader, err := client.SummarizeStream(ctx, sessionID)
	if err != nil {
		return err
	}
	return render(reader)
}

// render prints each snapshot's new suffix, so the answer appears in place
// as it grows.
func render(reader *relay.Reader) error {
	defer reader.Close()

	printed := 0
	for reader.Next() {
		snapshot := reader.Snapshot()
		if len(snapshot) > printed {
			fmt.Print(snapshot[printed:])
			printed = len(snapshot)
		}
	}
	fmt.Println()

	if stats := reader.Stats(); stats.Errors > 0 {
		color.Red("Error: %s", stats.LastError)
	}
	return reader.Err()
}

func repl(ctx context.Context, client *relay.Client, stream bool, sessionID string) error {
	color.Cyan("\nChat with your document (type '/summary' to summarize, 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}

		assistantPrompt("Assistant: ")
		var err error
		if query == "/summary" {
			err = summarize(ctx, client, stream, sessionID)
		} else {
			err = ask(ctx, client, stream, sessionID, query)
		}
		if err != nil {
			color.Red("Error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return scanner.Err()
}
