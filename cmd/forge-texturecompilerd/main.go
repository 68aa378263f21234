// Command forge-texturecompilerd runs the reference texture compiler
// as an out-of-process plugin: a gRPC server implementing
// internal/pluginloader's RemoteCompilerHandler. On startup it writes a
// small manifest file naming its listen address, which is what
// internal/pluginloader.DiscoverCompileOperations globs for under the
// configured plugin_loader.search_paths. Everything but the ABI glue
// here lives in internal/compilers/texture, since a daemon's main
// package can't itself be imported or unit-tested.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/xlegames/forge/internal/compilers/texture"
	"github.com/xlegames/forge/internal/pluginloader"
)

const buildDate = "2026-07-31"

var version = pluginloader.LibVersionDesc{
	VersionString:   "1.0.0",
	BuildDateString: buildDate,
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:0", "gRPC listen address")
	manifestPath := flag.String("manifest", "", "path to write the plugin manifest (required)")
	flag.Parse()

	logger := slog.Default()
	if err := run(logger, *listenAddr, *manifestPath); err != nil {
		logger.Error("forge-texturecompilerd exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, listenAddr, manifestPath string) error {
	if manifestPath == "" {
		return fmt.Errorf("forge-texturecompilerd: --manifest is required")
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	defer lis.Close()

	actualAddr := lis.Addr().String()
	if err := writeManifest(manifestPath, actualAddr); err != nil {
		return fmt.Errorf("writing manifest %s: %w", manifestPath, err)
	}
	defer os.Remove(manifestPath)

	server := grpc.NewServer()
	pluginloader.RegisterRemoteCompilerServer(server, texture.Handler{Version: version})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()

	logger.Info("forge-texturecompilerd listening",
		slog.String("address", actualAddr),
		slog.String("manifest", manifestPath),
		slog.String("version", version.VersionString),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		server.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

type pluginManifest struct {
	Target string `json:"target"`
}

func writeManifest(path, target string) error {
	data, err := json.Marshal(pluginManifest{Target: target})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
