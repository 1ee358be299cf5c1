package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewModelsCmd creates the models command.
func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List installed models",
		Long:  "Display all installed models with their metadata and usage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModels(cmd.Context())
		},
	}
	return cmd
}

func runModels(ctx context.Context) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	models, err := engine.Store.List(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No models installed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tARCH\tQUANT\tPARAMS\tSIZE\tLAST USED\tUSES")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			m.Name, m.Metadata.Architecture, m.Metadata.Quantization,
			formatParams(m.Metadata.ParameterCount), formatBytes(m.SizeBytes),
			formatAge(m.LastUsedAt), m.UseCount)
	}
	return w.Flush()
}

func formatParams(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.0fM", float64(n)/1e6)
	case n > 0:
		return fmt.Sprintf("%d", n)
	default:
		return "-"
	}
}

// NewRemoveCmd creates the remove command.
func NewRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove NAME...",
		Short: "Remove installed models",
		Long: `Remove one or more installed models by manifest name. The underlying blob
is deleted once its last manifest is gone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), args)
		},
	}
	return cmd
}

func runRemove(ctx context.Context, names []string) error {
	_, engine, err := loadEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	for _, name := range names {
		if err := engine.RemoveModel(ctx, name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
		fmt.Printf("Removed %s\n", name)
	}
	return nil
}
