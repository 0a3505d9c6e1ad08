package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionlens/sessionlens/internal/daemon"
	lenserr "github.com/sessionlens/sessionlens/internal/errors"
	"github.com/sessionlens/sessionlens/internal/index"
	"github.com/sessionlens/sessionlens/internal/output"
	"github.com/sessionlens/sessionlens/internal/session"
)

func newContextCmd() *cobra.Command {
	var projectPath string
	var jsonOutput bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "context <session-id> <file>",
		Short: "Show the conversation behind a file's most recent edit",
		Long: `Query the daemon for the conversation segment that led to the most
recent edit of a file in a watched session: every event from the
triggering human message through the edit itself.

The file path must match how the index recorded it, which is relative
to the project root for files inside the project.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContext(cmd.Context(), cmd, projectPath, args[0], args[1], jsonOutput, timeout)
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "Project path the session belongs to (default: current directory)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait while the index is building")
	return cmd
}

func runContext(ctx context.Context, cmd *cobra.Command, projectPath, sessionID, file string, jsonOutput bool, timeout time.Duration) error {
	out := output.NewAuto(cmd.OutOrStdout())

	if projectPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine project path: %w", err)
		}
		projectPath = wd
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := daemon.NewClient(daemonConfig(cfg))
	if !client.IsRunning() {
		return fmt.Errorf("daemon is not running, start it with 'sessionlens daemon start'")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := session.Identity{ProjectPath: projectPath, SessionID: sessionID}

	var res *index.EditContext
	for {
		res, err = client.EditContext(ctx, id, file)
		if err == nil {
			break
		}
		if !lenserr.IsRetryable(err) {
			return err
		}
		// The index is still building; poll until it is ready.
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for index")
		case <-time.After(200 * time.Millisecond):
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out.Statusf("", "file:    %s", file)
	out.Statusf("", "edit at: event %d (triggered by event %d)", res.EditLine, res.TriggerLine)
	out.Newline()
	for _, ev := range res.Events {
		out.Statusf("", "%4d  %s", ev.Line, describeEvent(ev))
	}
	return nil
}

// describeEvent renders a one-line summary of a transcript event.
func describeEvent(ev index.Event) string {
	e := ev.Entry
	if e.Message != nil {
		var text string
		if err := json.Unmarshal(e.Message.Content, &text); err == nil && text != "" {
			return e.Type + ": " + firstLine(text)
		}
		for _, item := range e.Message.ContentItems() {
			if item.Type == "tool_use" && item.Name != "" {
				return e.Type + ": tool " + item.Name
			}
		}
	}
	return e.Type
}

// firstLine truncates text to its first line, capped at 80 runes.
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	runes := []rune(text)
	if len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return text
}
