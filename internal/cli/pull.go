package cli

import (
	"context"
	"fmt"

	"github.com/glorpus-work/modelstore/pkg/events"
	"github.com/glorpus-work/modelstore/pkg/model"
	"github.com/spf13/cobra"
)

// NewPullCmd creates the pull command.
func NewPullCmd() *cobra.Command {
	var (
		modelID  string
		variant  string
		version  string
		name     string
		size     int64
		sha256   string
		priority string
		detach   bool
	)

	cmd := &cobra.Command{
		Use:   "pull URL",
		Short: "Download and install a model",
		Long: `Download a model artifact, verify its integrity and install it into the
content-addressed store. Downloads are chunked and resumable; an interrupted
pull continues from the last completed chunk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &model.DownloadRequest{
				Artifact: model.ArtifactRef{
					ModelID:      modelID,
					VariantID:    variant,
					Version:      version,
					SourceURL:    args[0],
					TotalBytes:   size,
					ExpectedHash: sha256,
				},
				Name:     name,
				Priority: model.ParsePriority(priority),
			}
			return runPull(cmd.Context(), req, detach)
		},
	}

	cmd.Flags().StringVar(&modelID, "model-id", "", "Model identifier (required)")
	cmd.Flags().StringVar(&variant, "variant", "", "Variant identifier, e.g. the quantization")
	cmd.Flags().StringVar(&version, "version", "", "Model version")
	cmd.Flags().StringVar(&name, "name", "", "Manifest name to install under (defaults to the model id)")
	cmd.Flags().Int64Var(&size, "size", 0, "Expected artifact size in bytes (required)")
	cmd.Flags().StringVar(&sha256, "sha256", "", "Expected sha256 of the artifact (required)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "Queue priority: low, normal or high")
	cmd.Flags().BoolVar(&detach, "detach", false, "Submit the session and exit without waiting")
	_ = cmd.MarkFlagRequired("model-id")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("sha256")

	return cmd
}

func runPull(ctx context.Context, req *model.DownloadRequest, detach bool) error {
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

	sess, err := engine.Pull(runCtx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s: %s (%s)\n", sess.ID, sess.Name, formatBytes(sess.TotalBytes))

	if detach {
		return nil
	}
	return waitForSession(runCtx, engine.Bus, sess.ID, sess.TotalBytes)
}

// waitForSession follows a session's event stream until it reaches a terminal
// state.
func waitForSession(ctx context.Context, bus events.Bus, sessionID string, totalBytes int64) error {
	done := make(chan events.Event, 1)
	sub, err := bus.Subscribe(func(event events.Event) {
		switch event.Status {
		case model.StatusDownloading:
			fmt.Printf("\rDownloading %s (%s/s)   ",
				formatPercent(event.DownloadedBytes, totalBytes), formatBytes(event.BytesPerSecond))
		case model.StatusVerifying:
			fmt.Printf("\nVerifying...\n")
		case model.StatusInstalling:
			fmt.Println("Installing...")
		case model.StatusCompleted, model.StatusFailed, model.StatusCancelled, model.StatusPaused:
			select {
			case done <- event:
			default:
			}
		}
	}, events.FilterBySession(sessionID))
	if err != nil {
		return err
	}
	defer func() { _ = bus.Unsubscribe(sub) }()

	select {
	case <-ctx.Done():
		fmt.Println("\nInterrupted; the session will resume on the next run.")
		return nil
	case event := <-done:
		switch event.Status {
		case model.StatusCompleted:
			fmt.Printf("Installed %s\n", event.Completion.Name)
			return nil
		case model.StatusPaused:
			fmt.Println("\nSession paused.")
			return nil
		default:
			return fmt.Errorf("session %s: %s", event.Status, event.Message)
		}
	}
}
