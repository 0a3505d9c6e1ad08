package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionlens/sessionlens/internal/daemon"
	"github.com/sessionlens/sessionlens/internal/output"
	"github.com/sessionlens/sessionlens/internal/session"
	"github.com/sessionlens/sessionlens/internal/syncer"
)

func newWatchCmd() *cobra.Command {
	var projectPath string

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a session's index state",
		Long: `Follow a session and print its index state as it changes.

The daemon must be running. The watch keeps the session's index warm
and reports ready/error transitions plus change notifications until
interrupted.

Examples:
  sessionlens watch 0199a9fc-1b2c-7d3e --project /home/me/src/app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, projectPath, args[0])
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "Project path the session belongs to (default: current directory)")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, projectPath, sessionID string) error {
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

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sync := syncer.New(client, slog.Default())
	defer sync.Close()

	printSnapshot := func() {
		snap := sync.Snapshot()
		switch {
		case snap.IsIndexing:
			out.Status("", "indexing...")
		case snap.IsReady:
			st := snap.Status
			out.Statusf("", "ready: %d events, %d edits across %d files",
				st.TotalEvents, st.FileEditsCount, st.FilesEditedCount)
		case snap.Err != nil:
			out.Errorf("index failed: %v", snap.Err)
		default:
			out.Status("", "idle")
		}
	}

	sync.SetOnChange(printSnapshot)

	out.Statusf("", "watching session %s in %s", sessionID, projectPath)
	sync.SetIdentity(session.Identity{ProjectPath: projectPath, SessionID: sessionID})

	// Change notifications cover transcript growth; state transitions
	// are surfaced by polling the projections.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	lastState := syncer.StateIdle
	for {
		select {
		case <-ctx.Done():
			out.Newline()
			out.Status("", "stopping watch")
			return nil
		case <-ticker.C:
			if state := sync.State(); state != lastState {
				lastState = state
				printSnapshot()
			}
		}
	}
}
