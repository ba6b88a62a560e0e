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

	"StoryAI/sdk/go/story"
)

const (
	flagServer  = "server"
	flagTimeout = "timeout"
	flagUser    = "user"
	flagContext = "context"

	defaultServer = "http://localhost:8000"
	defaultUser   = "test_user"
)

// newRootCommand 构造 storyctl 的命令树，输入输出可替换以便测试。
func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "storyctl",
		Short:         "Interactive tester for the Story.AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)

	server := os.Getenv("STORY_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().String(flagServer, server, "base URL of the Story.AI server")
	root.PersistentFlags().Duration(flagTimeout, story.DefaultHTTPTimeout, "per-request timeout")

	root.AddCommand(
		setupHealthCommand(),
		setupAgentsCommand(),
		setupQueryCommand(),
		setupChatCommand(),
		setupJournalCommand(),
		setupTherapyCommand(),
	)
	return root
}

func setupHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, ctx, cancel, err := clientFor(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			health, err := client.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), health.Status)
			return nil
		},
	}
}

func setupAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the hosted agents and their addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, ctx, cancel, err := clientFor(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			agents, err := client.Agents(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range agents {
				fmt.Fprintf(out, "%-10s %-32s %s\n", a.Name, a.Title, a.Address)
			}
			return nil
		},
	}
}

func setupQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Send one query to the assistant agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString(flagUser)
			queryContext, _ := cmd.Flags().GetString(flagContext)

			client, ctx, cancel, err := clientFor(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			return sendQuery(ctx, client, cmd.OutOrStdout(), userID, strings.Join(args, " "), queryContext)
		},
	}
	cmd.Flags().String(flagUser, defaultUser, "user id")
	cmd.Flags().String(flagContext, "", "optional context passed to the assistant")
	return cmd
}

func setupChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant agent until you type exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString(flagUser)
			timeout, _ := cmd.Flags().GetDuration(flagTimeout)
			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprintln(out, "=== Assistant Agent ===")
			for {
				fmt.Fprintln(out, "\nEnter your query (or 'exit' to quit):")
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				query := strings.TrimSpace(scanner.Text())
				if strings.EqualFold(query, "exit") {
					return nil
				}
				if query == "" {
					continue
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err := sendQuery(ctx, client, out, userID, query, "")
				cancel()
				if err != nil {
					fmt.Fprintf(out, "\nError: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().String(flagUser, defaultUser, "user id")
	return cmd
}

func setupJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal [text]",
		Short: "Analyze a journal entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString(flagUser)
			client, ctx, cancel, err := clientFor(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			resp, err := client.AnalyzeJournal(ctx, story.JournalRequest{UserID: userID, Content: strings.Join(args, " ")})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().String(flagUser, defaultUser, "user id")
	return cmd
}

func setupTherapyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "therapy",
		Short: "Drive a therapy session",
	}
	cmd.PersistentFlags().String(flagUser, defaultUser, "user id")

	cmd.AddCommand(
		therapyAction("start", "Start a therapy session", "start_session", cobra.NoArgs),
		therapyAction("send [message]", "Send a message in the current session", "continue_session", cobra.MinimumNArgs(1)),
		therapyAction("end", "End the session and print its summary", "end_session", cobra.NoArgs),
	)
	return cmd
}

func therapyAction(use, short, action string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString(flagUser)
			client, ctx, cancel, err := clientFor(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			resp, err := client.TherapySession(ctx, story.TherapyRequest{
				UserID:  userID,
				Action:  action,
				Message: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("therapy %s: %s", action, resp.Message)
			}

			var data struct {
				Message        string `json:"message"`
				ClosingMessage string `json:"closing_message"`
				SessionSummary string `json:"session_summary"`
			}
			if err := resp.Decode(&data); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if data.ClosingMessage != "" {
				fmt.Fprintf(out, "Therapist: %s\n\n=== Session Summary ===\n%s\n", data.ClosingMessage, data.SessionSummary)
				return nil
			}
			fmt.Fprintf(out, "Therapist: %s\n", data.Message)
			return nil
		},
	}
}

func sendQuery(ctx context.Context, client *story.Client, out io.Writer, userID, query, queryContext string) error {
	req := story.QueryRequest{UserID: userID, Query: query}
	if queryContext != "" {
		req.Context = queryContext
	}
	resp, err := client.Query(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\n=== RESPONSE ===")
	return printResponse(out, resp)
}

func printResponse(out io.Writer, resp *story.Response) error {
	if !resp.Success {
		fmt.Fprintf(out, "Error: %s\n", resp.Message)
		return nil
	}
	var data any
	if err := resp.Decode(&data); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}

func newClient(cmd *cobra.Command) (*story.Client, error) {
	server, _ := cmd.Flags().GetString(flagServer)
	if strings.TrimSpace(server) == "" {
		return nil, errors.New("--server must not be empty")
	}
	return story.NewClient(server, nil)
}

func clientFor(cmd *cobra.Command) (*story.Client, context.Context, context.CancelFunc, error) {
	client, err := newClient(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	timeout, _ := cmd.Flags().GetDuration(flagTimeout)
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return client, ctx, cancel, nil
}
