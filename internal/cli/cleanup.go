package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd() *cobra.Command {
	var (
		apply      bool
		targetFree int64
		orphans    bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Suggest or apply storage cleanup",
		Long: `Score installed models for removal based on recency, size, redundancy and
hardware compatibility. Without --apply only the suggestions are printed.
With --target-free the suggestion list stops once removing it would bring
free space up to the target.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd.Context(), apply, targetFree, orphans)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Remove the suggested models instead of only listing them")
	cmd.Flags().Int64Var(&targetFree, "target-free", 0, "Stop suggesting once this many free bytes would be reached")
	cmd.Flags().BoolVar(&orphans, "orphans", false, "Also sweep unreferenced blobs")

	return cmd
}

func runCleanup(ctx context.Context, apply bool, targetFree int64, orphans bool) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if orphans {
		reclaimed, err := engine.Store.SweepOrphans(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Orphan sweep reclaimed %s\n", formatBytes(reclaimed))
	}

	suggestions, err := engine.Store.SuggestCleanup(ctx, targetFree)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tREASON\tSCORE")
	for _, sug := range suggestions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n",
			sug.Model.Name, formatBytes(sug.Model.SizeBytes), sug.Reason, sug.PriorityScore)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !apply {
		fmt.Println("\nRun again with --apply to remove these models.")
		return nil
	}

	reclaimed, err := engine.Store.ApplyCleanup(ctx, suggestions)
	if err != nil {
		return err
	}
	fmt.Printf("Reclaimed %s\n", formatBytes(reclaimed))
	return nil
}
