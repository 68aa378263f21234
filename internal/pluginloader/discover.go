package pluginloader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/registry"
)

// Host is the subset of *registry.Registry that DiscoverCompileOperations
// needs, kept narrow so tests can supply a fake.
type Host interface {
	RegisterCompiler(regex *regexp.Regexp, outputTypes []artifact.TypeCode, displayName, sourceVersion string, compilerDepVal *depval.Node, delegate registry.Delegate) (uint64, error)
}

// pluginManifest is the small JSON file DiscoverCompileOperations globs
// for: one per compiler plugin daemon, naming the gRPC address it is
// listening on. Adapted from the teacher's internal/ffmpeg/binary.go
// PATH/glob discovery, which globbed for binaries directly — that
// approach doesn't carry over here since a plugin is a long-running
// daemon, not a file to exec, so the glob target is a manifest pointing
// at the daemon's address instead of the daemon itself.
type pluginManifest struct {
	Target string `json:"target"`
}

// DiscoverCompileOperations enumerates candidate plugin manifest files
// matching pattern under dir, dials and attaches each with TryAttach,
// and registers one compiler per exported file-kind. Failure of any
// individual candidate (bad manifest, dial failure, bad ABI) is
// isolated: it is logged as a warning and discovery continues with the
// remaining candidates. Returns the registration ids added, so callers
// can deregister all plugins from one DiscoverCompileOperations call at
// once.
func DiscoverCompileOperations(ctx context.Context, host Host, cm *CrossModule, dir, pattern string, concurrency int, logger *slog.Logger) ([]uint64, error) {
	return discoverCompileOperations(ctx, host, cm, dir, pattern, concurrency, 5*time.Second, 2*time.Minute, logger)
}

// DiscoverCompileOperationsWithTimeouts is DiscoverCompileOperations
// with explicit dial/call timeouts, for callers that load them from
// config.PluginLoaderConfig instead of taking the defaults.
func DiscoverCompileOperationsWithTimeouts(ctx context.Context, host Host, cm *CrossModule, dir, pattern string, concurrency int, dialTimeout, callTimeout time.Duration, logger *slog.Logger) ([]uint64, error) {
	return discoverCompileOperations(ctx, host, cm, dir, pattern, concurrency, dialTimeout, callTimeout, logger)
}

func discoverCompileOperations(ctx context.Context, host Host, cm *CrossModule, dir, pattern string, concurrency int, dialTimeout, callTimeout time.Duration, logger *slog.Logger) ([]uint64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("pluginloader: globbing %s/%s: %w", dir, pattern, err)
	}

	var mu sync.Mutex
	var ids []uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, candidate := range matches {
		candidate := candidate
		g.Go(func() error {
			got, err := attachAndRegister(gctx, host, cm, candidate, dialTimeout, callTimeout, logger)
			if err != nil {
				logger.Warn("pluginloader: skipping candidate", slog.String("file", candidate), slog.String("error", err.Error()))
				return nil // isolate failure; other candidates still process
			}
			mu.Lock()
			ids = append(ids, got...)
			mu.Unlock()
			return nil
		})
	}
	// g.Wait's error is always nil here since per-candidate failures are
	// swallowed above; the return is kept for callers that add stages
	// which do want to fail the whole discovery pass.
	_ = g.Wait()
	return ids, nil
}

func attachAndRegister(ctx context.Context, host Host, cm *CrossModule, manifestPath string, dialTimeout, callTimeout time.Duration, logger *slog.Logger) ([]uint64, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var manifest pluginManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if manifest.Target == "" {
		return nil, fmt.Errorf("manifest %s has no target address", manifestPath)
	}

	lib := NewAttachableLibrary(manifest.Target, dialTimeout, callTimeout)
	if err := lib.TryAttach(ctx, cm); err != nil {
		return nil, err
	}

	version, _ := lib.TryGetVersion()
	kinds := lib.FileKinds()
	if len(kinds) == 0 {
		lib.Detach(cm, manifest.Target)
		return nil, fmt.Errorf("plugin at %s exports no file kinds", manifest.Target)
	}

	var ids []uint64
	for _, kind := range kinds {
		re, err := regexp.Compile(kind.RegexFilter)
		if err != nil {
			logger.Warn("pluginloader: bad regex filter", slog.String("target", manifest.Target), slog.String("pattern", kind.RegexFilter))
			continue
		}

		delegate := registry.Delegate(func(initializers []string) (registry.CompileOperation, error) {
			return lib.CreateCompileOperation(initializers)
		})

		id, err := host.RegisterCompiler(re, kind.AssetTypes, kind.DisplayName, version.VersionString, nil, delegate)
		if err != nil {
			logger.Warn("pluginloader: registering compiler failed", slog.String("target", manifest.Target), slog.String("display_name", kind.DisplayName), slog.String("error", err.Error()))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
