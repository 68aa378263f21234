package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xlegames/forge/internal/config"
	"github.com/xlegames/forge/internal/observability"
	"github.com/xlegames/forge/internal/storegc"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove stale intermediate-store generation directories",
	Long: `gc runs the same generation-pruning pass the serve command's
scheduler runs on a cron, once, and prints the directories it removed.
Useful for a one-shot cleanup without running the full server.`,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)

	collector, err := storegc.New(storegc.Options{
		BaseDir:      cfg.Store.BaseDir,
		ConfigString: cfg.Store.ConfigString,
		Generations:  cfg.StoreGC.Generations,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("configuring store gc: %w", err)
	}

	removed, err := collector.Run()
	if err != nil {
		return fmt.Errorf("running store gc: %w", err)
	}

	if len(removed) == 0 {
		fmt.Println("nothing to remove")
		return nil
	}
	for _, dir := range removed {
		fmt.Println(dir)
	}
	return nil
}
