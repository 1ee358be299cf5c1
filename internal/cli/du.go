package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewDuCmd creates the du command.
func NewDuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "du",
		Short: "Show storage usage",
		Long:  "Display disk usage of the model store: installed blobs, partial downloads and orphans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDu(cmd.Context())
		},
	}
	return cmd
}

func runDu(ctx context.Context) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	acc, err := engine.Store.Accounting(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintf(w, "Models:\t%s\n", formatBytes(acc.ModelsBytes))
	fmt.Fprintf(w, "Partial downloads:\t%s\n", formatBytes(acc.PartialBytes))
	fmt.Fprintf(w, "Orphaned blobs:\t%s\n", formatBytes(acc.OrphanBytes))
	fmt.Fprintf(w, "Disk free:\t%s of %s\n", formatBytes(acc.FreeDiskBytes), formatBytes(acc.TotalDiskBytes))
	if err := w.Flush(); err != nil {
		return err
	}

	if acc.LowOnSpace {
		fmt.Println("\nWarning: free space is below the configured threshold.")
	}
	return nil
}
