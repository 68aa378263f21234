// Package storegc prunes stale intermediate-store generations: the
// numbered <base_dir>/.int-<config>/<N>/ directories the store creates
// whenever its version string changes. The store itself never deletes
// these — each is a valid cache for the engine version that created it —
// so without this component a machine that's run many engine versions
// accumulates one full copy of the cache per version forever.
package storegc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gofrs/flock"
)

// Collector prunes old generation directories under a store's base
// directory, keeping the most recent Generations of them.
type Collector struct {
	baseDir      string
	configString string
	generations  int
	logger       *slog.Logger
}

// Options configures a Collector.
type Options struct {
	BaseDir      string
	ConfigString string
	Generations  int // number of most-recent generation dirs to retain; must be >= 1
	Logger       *slog.Logger
}

// New constructs a Collector.
func New(opts Options) (*Collector, error) {
	if opts.Generations < 1 {
		return nil, fmt.Errorf("storegc: generations must be at least 1")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Collector{
		baseDir:      opts.BaseDir,
		configString: opts.ConfigString,
		generations:  opts.Generations,
		logger:       opts.Logger,
	}, nil
}

// Run scans <base_dir>/.int-<config>/ for numbered generation
// directories beyond the Generations most recent (highest numbered) and
// removes each one whose .store marker can be exclusively locked —
// i.e. unused by any live process, per the same gofrs/flock primitive
// internal/store/dirselect.go uses to claim a directory. A directory a
// running Store still holds open is skipped rather than removed, even
// if it is one of the stale ones: a concurrently running older-version
// process is still allowed to use its store for as long as it's alive.
// The universal store mode (<base_dir>/.int/u) has no generations and
// is never touched.
func (c *Collector) Run() ([]string, error) {
	root := filepath.Join(c.baseDir, ".int-"+c.configString)

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storegc: listing %s: %w", root, err)
	}

	var generations []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			continue
		}
		generations = append(generations, n)
	}
	if len(generations) <= c.generations {
		return nil, nil
	}

	sort.Sort(sort.Reverse(sort.IntSlice(generations)))
	stale := generations[c.generations:]

	var removed []string
	for _, n := range stale {
		dir := filepath.Join(root, strconv.Itoa(n))

		lk := flock.New(filepath.Join(dir, ".store"))
		locked, err := lk.TryLock()
		if err != nil {
			c.logger.Warn("storegc: failed to check generation liveness", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		if !locked {
			c.logger.Info("storegc: generation still in use, skipping", slog.String("dir", dir))
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn("storegc: failed to remove stale generation", slog.String("dir", dir), slog.String("error", err.Error()))
			_ = lk.Close()
			continue
		}
		_ = lk.Close()
		c.logger.Info("storegc: removed stale generation", slog.String("dir", dir))
		removed = append(removed, dir)
	}
	return removed, nil
}
