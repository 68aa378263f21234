package store

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
)

// storeMarker is the contents of a directory's .store marker file: the
// engine-version string the directory was created for. A process that
// adopts the directory takes an exclusive, non-blocking flock on this
// file and holds it open for as long as the Store using that directory
// is alive — the original's "open without sharing, keep the handle
// open" technique for making the marker double as a mutex against other
// processes racing to adopt, or garbage-collect, the same directory.
type storeMarker struct {
	XMLName       xml.Name `xml:"Store"`
	VersionString string   `xml:"VersionString,attr"`
}

// resolveDir implements the one-time, deferred directory-selection
// algorithm (spec §4.3): pick (or create) the subdirectory under
// <base>/.int-<config>/ whose .store marker matches versionString, or
// the fixed <base>/.int/u directory when universal is set. The returned
// lock is held exclusively on the chosen directory's marker; the caller
// must Close it when the store is done with the directory.
func resolveDir(baseDir, versionString, configString string, universal bool) (string, *flock.Flock, error) {
	if universal {
		dir := filepath.Join(baseDir, ".int", "u")
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", nil, fmt.Errorf("store: creating universal dir: %w", err)
		}
		lk, err := lockOwnMarker(dir, versionString)
		if err != nil {
			return "", nil, err
		}
		return dir, lk, nil
	}

	root := filepath.Join(baseDir, ".int-"+configString)
	if err := os.MkdirAll(root, 0750); err != nil {
		return "", nil, fmt.Errorf("store: creating config dir: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", nil, fmt.Errorf("store: listing config dir: %w", err)
	}

	used := make(map[int]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			continue
		}
		used[n] = true

		candidate := filepath.Join(root, e.Name())
		if lk, ok := tryAdoptMatching(candidate, versionString); ok {
			return candidate, lk, nil
		}
	}

	n := 0
	for used[n] {
		n++
	}
	dir := filepath.Join(root, strconv.Itoa(n))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", nil, fmt.Errorf("store: creating dir %d: %w", n, err)
	}
	lk, err := lockOwnMarker(dir, versionString)
	if err != nil {
		return "", nil, err
	}
	return dir, lk, nil
}

// tryAdoptMatching attempts to exclusively lock dir's .store marker and
// reports whether it both locked successfully and names versionString.
// A marker locked by another process, a missing/unreadable marker, or a
// version mismatch are all treated as "does not match" so the caller
// falls through to the next candidate integer (spec's Boundary behavior
// #3: a marker locked by another process falls through rather than
// blocking or erroring). On any non-match the lock, if acquired, is
// released before returning.
func tryAdoptMatching(dir, versionString string) (*flock.Flock, bool) {
	markerPath := filepath.Join(dir, ".store")
	if _, err := os.Stat(markerPath); err != nil {
		return nil, false
	}

	lk := flock.New(markerPath)
	locked, err := lk.TryLock()
	if err != nil || !locked {
		return nil, false
	}

	data, err := os.ReadFile(markerPath)
	if err != nil {
		_ = lk.Close()
		return nil, false
	}
	var m storeMarker
	if xml.Unmarshal(data, &m) != nil || m.VersionString != versionString {
		_ = lk.Close()
		return nil, false
	}
	return lk, true
}

// lockOwnMarker writes a fresh .store marker for versionString into dir
// and takes the exclusive lock on it, for the directory this process
// just created or is the sole owner of.
func lockOwnMarker(dir, versionString string) (*flock.Flock, error) {
	if err := writeMarker(dir, versionString); err != nil {
		return nil, err
	}
	markerPath := filepath.Join(dir, ".store")
	lk := flock.New(markerPath)
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: locking marker %s: %w", markerPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("store: marker %s is already locked by another process", markerPath)
	}
	return lk, nil
}

func writeMarker(dir, versionString string) error {
	data, err := xml.MarshalIndent(storeMarker{VersionString: versionString}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding marker: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".store"), data, 0640); err != nil {
		return fmt.Errorf("store: writing marker: %w", err)
	}
	return nil
}

// resolver lazily resolves the store directory exactly once, matching
// the "one-time, deferred" construction contract: the store may be
// constructed before its base directory exists. It owns the directory's
// marker lock for as long as the resolver is alive.
type resolver struct {
	once sync.Once
	dir  string
	lock *flock.Flock
	err  error

	baseDir, versionString, configString string
	universal                            bool
}

func (r *resolver) resolve() (string, error) {
	r.once.Do(func() {
		r.dir, r.lock, r.err = resolveDir(r.baseDir, r.versionString, r.configString, r.universal)
	})
	return r.dir, r.err
}

// Close releases the directory's marker lock, if one was acquired.
func (r *resolver) Close() error {
	if r.lock == nil {
		return nil
	}
	return r.lock.Close()
}
