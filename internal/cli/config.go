package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/glorpus-work/modelstore/pkg/config"
	"github.com/glorpus-work/modelstore/pkg/fsutil"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command with subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "View and initialize modelstore configuration settings",
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current configuration settings",
		RunE:  runConfigShow,
	}
}

func runConfigShow(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s := &cfg.Settings
	w := tabwriter.NewWriter(os.Stdout, 0, TabWidth, 2, ' ', 0)
	fmt.Fprintf(w, "storage_dir:\t%s\n", s.StorageDir)
	fmt.Fprintf(w, "chunk_size_bytes:\t%d\n", s.ChunkSizeBytes)
	fmt.Fprintf(w, "chunk_workers:\t%d\n", s.ChunkWorkers)
	fmt.Fprintf(w, "chunk_retries:\t%d\n", s.ChunkRetries)
	fmt.Fprintf(w, "retry_base_delay:\t%s\n", s.RetryBaseDelay)
	fmt.Fprintf(w, "http_timeout:\t%s\n", s.HTTPTimeout)
	fmt.Fprintf(w, "max_concurrent_downloads:\t%d\n", s.MaxConcurrentDownloads)
	fmt.Fprintf(w, "free_space_threshold_bytes:\t%d\n", s.FreeSpaceThresholdBytes)
	fmt.Fprintf(w, "never_used_grace_days:\t%d\n", s.NeverUsedGraceDays)
	fmt.Fprintf(w, "progress_events_per_second:\t%d\n", s.ProgressEventsPerSecond)
	fmt.Fprintf(w, "hooks_dir:\t%s\n", s.HooksDir)
	fmt.Fprintf(w, "log_level:\t%s\n", s.LogLevel)
	return w.Flush()
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long:  "Create a configuration file with default settings at the default location",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfigInit(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runConfigInit(force bool) error {
	path := ""
	if ConfigPath != nil && *ConfigPath != "" {
		path = *ConfigPath
	} else {
		defaultPath, err := fsutil.GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
		path = defaultPath
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
