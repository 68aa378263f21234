package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xlegames/forge/internal/api"
	"github.com/xlegames/forge/internal/config"
	"github.com/xlegames/forge/internal/historydb"
	"github.com/xlegames/forge/internal/observability"
	"github.com/xlegames/forge/internal/pluginloader"
	"github.com/xlegames/forge/internal/registry"
	"github.com/xlegames/forge/internal/store"
	"github.com/xlegames/forge/internal/storegc"
	"github.com/xlegames/forge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry, store, plugin loader, and introspection API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "introspection API bind host (overrides config)")
	serveCmd.Flags().Int("port", 0, "introspection API bind port (overrides config)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if viper.GetString("server.host") != "" {
		cfg.Server.Host = viper.GetString("server.host")
	}
	if viper.GetInt("server.port") != 0 {
		cfg.Server.Port = viper.GetInt("server.port")
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	var historyRepo *historydb.Repo
	if db, err := historydb.Open(cfg.HistoryDB, logger); err != nil {
		logger.Warn("build-history database unavailable; continuing without it", slog.String("error", err.Error()))
	} else {
		historyRepo = historydb.NewRepo(db)
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(ctx, registry.Options{
		Store:       intStore,
		History:     historyRepo,
		Logger:      logger,
		Concurrency: int64(cfg.Registry.Workers),
	})

	cm := pluginloader.NewCrossModule()
	for _, dir := range cfg.PluginLoader.SearchPaths {
		ids, err := pluginloader.DiscoverCompileOperationsWithTimeouts(ctx, reg, cm, dir, cfg.PluginLoader.Pattern, cfg.PluginLoader.Concurrency,
			cfg.PluginLoader.DialTimeout.Duration(), cfg.PluginLoader.CallTimeout.Duration(), logger)
		if err != nil {
			logger.Warn("plugin discovery failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		logger.Info("discovered compilers", slog.String("dir", dir), slog.Int("count", len(ids)))
	}

	var gcScheduler *storegc.Scheduler
	if cfg.StoreGC.Enabled {
		collector, err := storegc.New(storegc.Options{
			BaseDir:      cfg.Store.BaseDir,
			ConfigString: cfg.Store.ConfigString,
			Generations:  cfg.StoreGC.Generations,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("configuring store gc: %w", err)
		}
		gcScheduler, err = storegc.NewScheduler(collector, cfg.StoreGC.Cron, logger)
		if err != nil {
			return fmt.Errorf("configuring store gc schedule: %w", err)
		}
		gcScheduler.Start(ctx, cfg.StoreGC.RunOnStartup)
	}

	registryView := api.NewRegistryView(reg)
	healthView := api.NewHealthView(version.Version, historyRepo)

	registrars := []func(huma.API){registryView.Register, healthView.Register}
	if historyRepo != nil {
		historyView := api.NewHistoryView(historyRepo)
		registrars = append(registrars, historyView.Register)
	}

	server := api.NewServer(cfg.Server, logger, version.Version, registrars...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		if gcScheduler != nil {
			gcScheduler.Stop()
		}
		cancel()
	}()

	logger.Info("forge starting",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)
	return server.ListenAndServe(ctx)
}
