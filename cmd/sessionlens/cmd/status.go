package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionlens/sessionlens/internal/daemon"
	"github.com/sessionlens/sessionlens/internal/output"
	"github.com/sessionlens/sessionlens/internal/session"
	"github.com/sessionlens/sessionlens/internal/syncer"
)

func newStatusCmd() *cobra.Command {
	var projectPath string
	var jsonOutput bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's index status",
		Long: `Build or revive the session's index and print its status once it is
ready. The watch is released before the command returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, projectPath, args[0], jsonOutput, timeout)
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "Project path the session belongs to (default: current directory)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the index")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, projectPath, sessionID string, jsonOutput bool, timeout time.Duration) error {
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

	sync := syncer.New(client, slog.Default())
	defer sync.Close()
	sync.SetIdentity(session.Identity{ProjectPath: projectPath, SessionID: sessionID})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for index")
		case <-ticker.C:
		}

		switch sync.State() {
		case syncer.StateReady:
			st := sync.Status()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			out.Statusf("", "session:      %s", sessionID)
			out.Statusf("", "events:       %d", st.TotalEvents)
			out.Statusf("", "file edits:   %d", st.FileEditsCount)
			out.Statusf("", "files edited: %d", st.FilesEditedCount)
			return nil
		case syncer.StateError:
			return fmt.Errorf("index failed: %v", sync.Err())
		}
	}
}
