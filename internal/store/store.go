// Package store implements the intermediate asset compilation cache: a
// versioned on-disk store keyed by (group, archivable name), with
// exclusive-by-key in-flight/read-refcount concurrency rules and a
// dependency manifest used to invalidate stale products.
package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
)

func statModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Errors returned by Store/Retrieve. These are non-fatal concurrency
// rejections the caller is expected to retry, not crashes.
var (
	ErrConflict       = errors.New("store: conflicting store already in flight")
	ErrReadInProgress = errors.New("store: read in progress for this key")
)

// Config selects which on-disk directory a Store resolves to.
type Config struct {
	BaseDir       string
	VersionString string
	ConfigString  string
	Universal     bool
}

// Store is the intermediate compilation-products cache. One Store
// instance corresponds to one selected on-disk directory (see
// dirselect.go); directory selection is deferred until first use.
type Store struct {
	cfg Config
	res *resolver

	tracker *depval.Tracker

	mu         sync.Mutex
	groups     map[string]*group
	inFlight   map[uint64]bool
	readCounts map[uint64]int
}

type group struct {
	name string
	id   uint64
	dir  string // relative to the store's resolved base
}

// New creates a Store over cfg. tracker is the dependency-validation
// table used to hydrate and re-check dependencies on retrieve; pass
// depval.Default to share the process-wide table.
func New(cfg Config, tracker *depval.Tracker) *Store {
	if tracker == nil {
		tracker = depval.Default
	}
	return &Store{
		cfg: cfg,
		res: &resolver{
			baseDir:       cfg.BaseDir,
			versionString: cfg.VersionString,
			configString:  cfg.ConfigString,
			universal:     cfg.Universal,
		},
		tracker:    tracker,
		groups:     make(map[string]*group),
		inFlight:   make(map[uint64]bool),
		readCounts: make(map[uint64]int),
	}
}

// Close releases the exclusive lock this Store holds on its resolved
// directory's .store marker, if a directory was ever resolved. Callers
// should Close a Store once they're done with it so another process (or
// storegc) can see the generation as unused again.
func (s *Store) Close() error {
	return s.res.Close()
}

func hashName(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// sanitize replaces filename-unsafe characters with '-', per spec §4.3.
func sanitize(name string) string {
	r := strings.NewReplacer(":", "-", "*", "-")
	return r.Replace(name)
}

// RegisterGroup hashes name to a group id (creating the group's
// subdirectory on first use) and returns that id, exactly like
// RegisterCompiler asking the store to allocate a group id for a
// compiler's display name.
func (s *Store) RegisterGroup(name string) (uint64, error) {
	s.mu.Lock()
	if g, ok := s.groups[name]; ok {
		s.mu.Unlock()
		return g.id, nil
	}
	s.mu.Unlock()

	base, err := s.res.resolve()
	if err != nil {
		return 0, err
	}
	sb, err := newSandbox(base)
	if err != nil {
		return 0, err
	}

	id := hashName(name)
	safeName := sanitize(name)
	if err := sb.mkdirAll(safeName); err != nil {
		return 0, fmt.Errorf("store: creating group dir %q: %w", name, err)
	}

	s.mu.Lock()
	s.groups[name] = &group{name: name, id: id, dir: safeName}
	s.mu.Unlock()
	return id, nil
}

func (s *Store) key(groupID uint64, archivableName string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(archivableName))
	var idBuf [8]byte
	for i := range idBuf {
		idBuf[i] = byte(groupID >> (8 * i))
	}
	h.Write(idBuf[:])
	return h.Sum64()
}

// acquireStore enforces the store-side half of the in-flight/read
// exclusivity invariant: reject if a store is already in flight for key,
// or if any read is in progress. Returns a release func to call when done.
func (s *Store) acquireStore(key uint64) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] {
		return nil, ErrConflict
	}
	if s.readCounts[key] > 0 {
		return nil, ErrReadInProgress
	}
	s.inFlight[key] = true
	return func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}, nil
}

// acquireRead enforces the read-side half: reject if a store is in
// flight; otherwise increment the read refcount. The returned release
// func decrements it even if the caller errors after acquiring.
func (s *Store) acquireRead(key uint64) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[key] {
		return nil, ErrConflict
	}
	s.readCounts[key]++
	return func() {
		s.mu.Lock()
		s.readCounts[key]--
		if s.readCounts[key] <= 0 {
			delete(s.readCounts, key)
		}
		s.mu.Unlock()
	}, nil
}

// StoreCompileProducts persists one compile operation's chunks under
// groupName/archivableName: an aggregate chunk file, a manifest mapping
// type codes to that file, and a dependency manifest. See spec §4.3
// "Store operation" for the numbered steps this follows.
func (s *Store) StoreCompileProducts(groupName, archivableName string, chunks []artifact.Chunk, deps []depval.DependentFileState, srcVersion string) error {
	groupID, err := s.RegisterGroup(groupName)
	if err != nil {
		return err
	}

	key := s.key(groupID, archivableName)
	release, err := s.acquireStore(key)
	if err != nil {
		return err
	}
	defer release()

	base, err := s.res.resolve()
	if err != nil {
		return err
	}
	sb, err := newSandbox(base)
	if err != nil {
		return err
	}

	s.mu.Lock()
	g := s.groups[groupName]
	s.mu.Unlock()

	safeArchivable := sanitize(archivableName)
	productPath := filepath.Join(g.dir, safeArchivable)
	manifestPath := productPath + ".manifest"
	depsPath := productPath + ".deps"

	var buf strings.Builder
	if err := artifact.BuildChunkFile(&buf, chunks, artifact.AllChunks, srcVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store: building chunk file: %w", err)
	}
	if err := sb.atomicWrite(productPath, []byte(buf.String())); err != nil {
		return fmt.Errorf("store: writing product file: %w", err)
	}

	manifestData, err := encodeManifest(chunks, productPath)
	if err != nil {
		return err
	}
	if err := sb.atomicWrite(manifestPath, manifestData); err != nil {
		return fmt.Errorf("store: writing manifest: %w", err)
	}

	depsData, err := encodeDepFile(base, deps)
	if err != nil {
		return err
	}
	if err := sb.atomicWrite(depsPath, depsData); err != nil {
		return fmt.Errorf("store: writing dependency file: %w", err)
	}

	return nil
}

// RetrieveCompileProducts locates a previously stored product and
// rehydrates it into an artifact.Collection whose dependency node is
// re-validated against the tracker's current file records. Returns a nil
// collection (with no error) both when nothing has ever been stored for
// this key and when a recorded dependency has gone stale, since both
// cases mean "the caller should recompile".
func (s *Store) RetrieveCompileProducts(groupName, archivableName string) (*artifact.Collection, error) {
	groupID, err := s.RegisterGroup(groupName)
	if err != nil {
		return nil, err
	}
	key := s.key(groupID, archivableName)

	release, err := s.acquireRead(key)
	if err != nil {
		return nil, err
	}
	defer release()

	base, err := s.res.resolve()
	if err != nil {
		return nil, err
	}
	sb, err := newSandbox(base)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	g := s.groups[groupName]
	s.mu.Unlock()

	safeArchivable := sanitize(archivableName)
	productPath := filepath.Join(g.dir, safeArchivable)
	manifestPath := productPath + ".manifest"
	depsPath := productPath + ".deps"

	ok, err := sb.exists(manifestPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	manifestData, err := sb.readFile(manifestPath)
	if err != nil {
		return nil, err
	}
	m, err := decodeManifest(manifestData)
	if err != nil {
		return nil, err
	}

	depsData, err := sb.readFile(depsPath)
	if err != nil {
		return nil, err
	}
	df, err := decodeDepFile(depsData)
	if err != nil {
		return nil, err
	}

	stat := func(filename string) (time.Time, error) {
		abs := filename
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(df.BasePath, filename)
		}
		return statModTime(abs)
	}

	node := s.tracker.NewNode()
	for _, recorded := range df.toStates() {
		reason := s.tracker.TryRegisterDependency(node, recorded, stat)
		if reason != depval.Valid {
			return nil, nil
		}
	}

	productData, err := sb.readFile(productPath)
	if err != nil {
		return nil, err
	}
	chunks, err := artifact.ReadChunkFile(productData)
	if err != nil {
		return nil, err
	}
	_ = m // manifest currently only records which types are present; the
	// aggregate chunk file's own directory is authoritative for offsets.

	return &artifact.Collection{Chunks: chunks, DepNod: node, State: artifact.Ready}, nil
}
