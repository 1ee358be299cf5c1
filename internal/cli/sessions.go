package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the sessions command.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List download sessions",
		Long:  "Display all download sessions and their progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessions(cmd.Context())
		},
	}
	return cmd
}

func runSessions(ctx context.Context) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	sessions, err := engine.Sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSTATUS\tPRIORITY\tPROGRESS\tSIZE\tERROR")
	for _, sess := range sessions {
		errMsg := sess.ErrorMessage
		if len(errMsg) > MaxErrorLength {
			errMsg = errMsg[:MaxErrorLength] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sess.ID, sess.Artifact.ModelID, sess.Status, sess.Priority,
			formatPercent(sess.DownloadedBytes, sess.TotalBytes),
			formatBytes(sess.TotalBytes), errMsg)
	}
	return w.Flush()
}

// NewPauseCmd creates the pause command.
func NewPauseCmd() *cobra.Command {
	return sessionActionCmd("pause", "Pause a download session",
		"Stop a queued or downloading session at the next chunk boundary. Completed chunks are kept.",
		func(ctx context.Context, id string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			return engine.Sessions.Pause(ctx, id)
		})
}

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	return sessionActionCmd("resume", "Resume a paused session",
		"Re-enqueue a paused session. The download continues from the last completed chunk.",
		func(ctx context.Context, id string) error {
			return resumeAndWait(ctx, id)
		})
}

// NewCancelCmd creates the cancel command.
func NewCancelCmd() *cobra.Command {
	return sessionActionCmd("cancel", "Cancel a download session",
		"Abort a session and delete its partial file.",
		func(ctx context.Context, id string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			return engine.Sessions.Cancel(ctx, id)
		})
}

// NewRetryCmd creates the retry command.
func NewRetryCmd() *cobra.Command {
	return sessionActionCmd("retry", "Retry a failed session",
		"Re-enqueue a failed session. Completed chunks are not downloaded again.",
		func(ctx context.Context, id string) error {
			_, engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			if err := engine.Start(runCtx); err != nil {
				return err
			}
			if err := engine.Sessions.Retry(runCtx, id); err != nil {
				return err
			}
			sess, err := engine.Sessions.Get(runCtx, id)
			if err != nil {
				return err
			}
			return waitForSession(runCtx, engine.Bus, id, sess.TotalBytes)
		})
}

func resumeAndWait(ctx context.Context, id string) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := engine.Start(runCtx); err != nil {
		return err
	}
	if err := engine.Sessions.Resume(runCtx, id); err != nil {
		return err
	}
	sess, err := engine.Sessions.Get(runCtx, id)
	if err != nil {
		return err
	}
	return waitForSession(runCtx, engine.Bus, id, sess.TotalBytes)
}

func sessionActionCmd(use, short, long string, run func(ctx context.Context, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SESSION_ID",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s: %s requested\n", args[0], use)
			return nil
		},
	}
}
