package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/config"
	"github.com/xlegames/forge/internal/observability"
	"github.com/xlegames/forge/internal/pluginloader"
	"github.com/xlegames/forge/internal/registry"
	"github.com/xlegames/forge/internal/store"
)

var compileTypeMnemonic string

var compileCmd = &cobra.Command{
	Use:   "compile [initializers...]",
	Short: "Run a single ad-hoc compile and print the resulting chunk list",
	Long: `compile discovers configured compiler plugins, issues a single
Prepare/GetExistingAsset/InvokeCompile request, and waits for it to
settle. It is a debugging aid: each run is its own process with its own
registry, so requests are coalesced only within that one run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringVar(&compileTypeMnemonic, "type", "", "output type mnemonic to request (required)")
	_ = compileCmd.MarkFlagRequired("type")
}

func runCompile(cmd *cobra.Command, initializers []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)

	intStore := store.New(store.Config{
		BaseDir:       cfg.Store.BaseDir,
		VersionString: cfg.Store.VersionString,
		ConfigString:  cfg.Store.ConfigString,
		Universal:     cfg.Store.Universal,
	}, nil)
	defer func() {
		if err := intStore.Close(); err != nil {
			logger.Warn("failed to release store directory lock", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(ctx, registry.Options{
		Store:       intStore,
		Logger:      logger,
		Concurrency: int64(cfg.Registry.Workers),
	})

	cm := pluginloader.NewCrossModule()
	for _, dir := range cfg.PluginLoader.SearchPaths {
		if _, err := pluginloader.DiscoverCompileOperationsWithTimeouts(ctx, reg, cm, dir, cfg.PluginLoader.Pattern, cfg.PluginLoader.Concurrency,
			cfg.PluginLoader.DialTimeout.Duration(), cfg.PluginLoader.CallTimeout.Duration(), logger); err != nil {
			logger.Warn("plugin discovery failed", "dir", dir, "error", err.Error())
		}
	}

	typeCode := artifact.HashTypeCode(compileTypeMnemonic)

	marker, err := reg.Prepare(typeCode, initializers)
	if err != nil {
		return fmt.Errorf("preparing request: %w", err)
	}

	if existing, err := marker.GetExistingAsset(); err == nil && existing != nil {
		fmt.Println("cache hit: asset already present in store")
		printCollection(existing)
		return nil
	}

	future := marker.InvokeCompile()
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer waitCancel()

	coll, state, err := future.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for compile: %w", err)
	}
	if state == registry.Invalid {
		if msg, ok := coll.LogMessage(); ok {
			return fmt.Errorf("compile failed: %s", msg)
		}
		return fmt.Errorf("compile failed with no error message")
	}

	printCollection(coll)
	return nil
}

func printCollection(coll *artifact.Collection) {
	for _, c := range coll.Chunks {
		fmt.Printf("chunk %-16s version=%d size=%d bytes\n", c.Name, c.Version, len(c.Payload))
	}
}
