package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/echolabs/echo-agent/internal/agent"
	"github.com/echolabs/echo-agent/internal/app"
	"github.com/echolabs/echo-agent/internal/config"
	"github.com/echolabs/echo-agent/internal/domain"
	"github.com/echolabs/echo-agent/internal/identity"
	"github.com/echolabs/echo-agent/internal/logging"
)

// withRuntime loads configuration, starts the in-process runtime and hands
// it to fn. Logs go to stderr at warn level unless LOG_LEVEL says otherwise.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = "warn"
	}

	logger, logCloser, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.Close()

	return fn(ctx, rt)
}

func userAgent(ctx context.Context, rt *app.App, userID string) (*agent.Agent, error) {
	if !identity.ValidUserID(userID) {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}
	return rt.Manager.GetUserAgent(ctx, userID, agent.UserData{UserID: userID})
}

func runExec(cmd *cobra.Command, userID, text string, asJSON bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("command text is required")
	}
	return withRuntime(cmd, func(ctx context.Context, rt *app.App) error {
		if !identity.ValidUserID(userID) {
			return fmt.Errorf("invalid user id %q", userID)
		}
		result, err := rt.Manager.ProcessCommandForUser(ctx, userID, agent.UserData{UserID: userID}, domain.Command{
			Text:    text,
			Context: domain.CommandContext{Channel: domain.ChannelCLI, Origin: "cli:" + userID},
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, result)
		}
		printResult(out, result)
		return nil
	})
}

func runStatus(cmd *cobra.Command, userID string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *app.App) error {
		ag, err := userAgent(ctx, rt, userID)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), ag.Status())
	})
}

func runServices(cmd *cobra.Command, userID string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *app.App) error {
		ag, err := userAgent(ctx, rt, userID)
		if err != nil {
			return err
		}
		printServices(cmd.OutOrStdout(), ag)
		return nil
	})
}

func runChat(cmd *cobra.Command, userID string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *app.App) error {
		ag, err := userAgent(ctx, rt, userID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Connected to %s Agent as %s. Type 'help' for commands, 'exit' to quit.\n", rt.Config.AgentName, userID)

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			switch strings.ToLower(line) {
			case "":
				continue
			case "exit", "quit":
				return nil
			case "help", "h", "?":
				printHelp(out)
				continue
			case "services":
				printServices(out, ag)
				continue
			case "status":
				if err := writeJSON(out, ag.Status()); err != nil {
					return err
				}
				continue
			}

			// The agent may be swept or rebuilt while the session is open.
			ag, err = userAgent(ctx, rt, userID)
			if err != nil {
				return err
			}
			result, err := ag.Dispatch(ctx, domain.Command{
				UserID:  userID,
				Text:    line,
				Context: domain.CommandContext{Channel: domain.ChannelCLI, Origin: "cli:" + userID},
			})
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			printResult(out, result)
		}
	})
}

func printResult(w io.Writer, result *domain.CommandResult) {
	fmt.Fprintf(w, "%s%s\n", agent.ReplyPrefix, result.Message)
	if result.Action != nil {
		fmt.Fprintf(w, "  status=%s service=%s action=%s\n", result.Status, result.ServiceName(), result.ActionName())
		return
	}
	fmt.Fprintf(w, "  status=%s\n", result.Status)
}

func printServices(w io.Writer, ag *agent.Agent) {
	services := ag.Services()
	fmt.Fprintf(w, "Available services (%d):\n", len(services))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range services {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Name, d.Type, strings.Join(d.Capabilities, ", "))
	}
	_ = tw.Flush()
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands:
  help       show this message
  services   list available services
  status     show agent status
  exit       leave the session
Anything else is sent to the agent, e.g. "pay $10 to merchant@example.com".`)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
