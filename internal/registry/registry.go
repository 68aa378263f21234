// Package registry implements the compiler registry and request
// marker/future lifecycle: registration and dispatch of compile
// delegates, request coalescing, and the worker pool that runs compile
// jobs.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/historydb"
	"github.com/xlegames/forge/internal/store"
)

var osStat = os.Stat

// Registry registers compiler delegates and dispatches Prepare/compile
// requests to them. Locking follows the fixed order retained-records ->
// registry -> in-flight: the registry never holds its own lock while
// calling into the depval tracker or the store, and releases its lock
// before invoking a delegate.
type Registry struct {
	tracker *depval.Tracker
	store   *store.Store    // nil disables persistence; compiles always run
	history *historydb.Repo // nil disables the build-history audit log
	logger  *slog.Logger
	pool    *workerPool

	mu            sync.RWMutex
	registrations []*Registration // in registration order; first match wins
	byID          map[uint64]*Registration
	nextID        atomic.Uint64

	markersMu sync.Mutex
	markers   map[uint64]*Marker
}

// Options configures a new Registry.
type Options struct {
	Store       *store.Store
	History     *historydb.Repo
	Tracker     *depval.Tracker
	Logger      *slog.Logger
	Concurrency int64
}

// New constructs a Registry. ctx bounds the worker pool's lifetime; pass
// a context cancelled at process shutdown.
func New(ctx context.Context, opts Options) *Registry {
	if opts.Tracker == nil {
		opts.Tracker = depval.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Registry{
		tracker: opts.Tracker,
		store:   opts.Store,
		history: opts.History,
		logger:  opts.Logger,
		pool:    newWorkerPool(ctx, opts.Concurrency),
		byID:    make(map[uint64]*Registration),
		markers: make(map[uint64]*Marker),
	}
}

// RegisterCompiler records a new compiler delegate and, if a store is
// attached, allocates the store group that backs it (one subdirectory
// per display name). Multiple registrations may share output type codes;
// the first one registered whose regex matches wins at Prepare time.
func (r *Registry) RegisterCompiler(regex *regexp.Regexp, outputTypes []artifact.TypeCode, displayName, sourceVersion string, compilerDepVal *depval.Node, delegate Delegate) (uint64, error) {
	var groupID uint64
	if r.store != nil {
		id, err := r.store.RegisterGroup(displayName)
		if err != nil {
			return 0, fmt.Errorf("registry: allocating store group for %q: %w", displayName, err)
		}
		groupID = id
	}

	reg := &Registration{
		ID:             r.nextID.Add(1),
		Regex:          regex,
		OutputTypes:    outputTypes,
		DisplayName:    displayName,
		SourceVersion:  sourceVersion,
		CompilerDepVal: compilerDepVal,
		Delegate:       delegate,
		StoreGroupID:   groupID,
	}

	r.mu.Lock()
	r.registrations = append(r.registrations, reg)
	r.byID[reg.ID] = reg
	r.mu.Unlock()

	r.logger.Info("compiler registered", slog.Uint64("registration_id", reg.ID), slog.String("display_name", displayName))
	return reg.ID, nil
}

// DeregisterCompiler removes a registration. Any marker already holding
// that registration id settles its next compile attempt Invalid, with
// ErrRegistrationExpired's message as the log, rather than following a
// dangling pointer.
func (r *Registry) DeregisterCompiler(id uint64) {
	r.mu.Lock()
	delete(r.byID, id)
	for i, reg := range r.registrations {
		if reg.ID == id {
			r.registrations = append(r.registrations[:i], r.registrations[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.logger.Info("compiler deregistered", slog.Uint64("registration_id", id))
}

func (r *Registry) lookupRegistration(id uint64) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return reg, ok
}

// RegistrationInfo is a read-only snapshot of one registered compiler,
// safe to serialize for introspection.
type RegistrationInfo struct {
	ID            uint64
	DisplayName   string
	SourceVersion string
	OutputTypes   []artifact.TypeCode
	Pattern       string
}

// Registrations returns a snapshot of all currently registered compilers
// in registration order.
func (r *Registry) Registrations() []RegistrationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistrationInfo, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, RegistrationInfo{
			ID:            reg.ID,
			DisplayName:   reg.DisplayName,
			SourceVersion: reg.SourceVersion,
			OutputTypes:   reg.OutputTypes,
			Pattern:       reg.Regex.String(),
		})
	}
	return out
}

// MarkerInfo is a read-only snapshot of one outstanding marker.
type MarkerInfo struct {
	TypeCode     artifact.TypeCode
	Initializers []string
	State        State
}

// Markers returns a snapshot of every marker the registry has coalesced
// a request for, regardless of whether its future has settled yet.
func (r *Registry) Markers() []MarkerInfo {
	r.markersMu.Lock()
	defer r.markersMu.Unlock()
	out := make([]MarkerInfo, 0, len(r.markers))
	for _, m := range r.markers {
		m.mu.Lock()
		var state State
		if m.activeFuture != nil {
			state = m.activeFuture.State()
		}
		m.mu.Unlock()
		out = append(out, MarkerInfo{
			TypeCode:     m.TypeCode,
			Initializers: m.Initializers,
			State:        state,
		})
	}
	return out
}

func requestHash(typeCode artifact.TypeCode, initializers []string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatUint(uint64(typeCode), 16)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(initializers, "\x1f")))
	return h.Sum64()
}

// Prepare returns the marker for (typeCode, initializers), creating and
// coalescing it if this is the first request for that exact tuple. Two
// calls with identical arguments always return the identical marker —
// the request-coalescing invariant.
func (r *Registry) Prepare(typeCode artifact.TypeCode, initializers []string) (*Marker, error) {
	if len(initializers) == 0 {
		return nil, fmt.Errorf("registry: Prepare requires at least one initializer")
	}
	reqHash := requestHash(typeCode, initializers)

	r.markersMu.Lock()
	if mk, ok := r.markers[reqHash]; ok {
		r.markersMu.Unlock()
		return mk, nil
	}
	r.markersMu.Unlock()

	r.mu.RLock()
	var matched *Registration
	for _, reg := range r.registrations {
		if reg.handlesType(typeCode) && reg.Regex.MatchString(initializers[0]) {
			matched = reg
			break
		}
	}
	r.mu.RUnlock()
	if matched == nil {
		return nil, ErrNoMatchingCompiler
	}

	mk := &Marker{TypeCode: typeCode, Initializers: initializers, registrationID: matched.ID, registry: r}

	r.markersMu.Lock()
	if existing, ok := r.markers[reqHash]; ok {
		r.markersMu.Unlock()
		return existing, nil
	}
	r.markers[reqHash] = mk
	r.markersMu.Unlock()
	return mk, nil
}

// archivableName derives the filename-safe cache key from a marker's
// initializers: the primary initializer, stripped of its extension, since it is what the store hashes into a product key.
func archivableName(initializers []string) string {
	first := initializers[0]
	first = strings.TrimSuffix(first, filepathExt(first))
	return first
}

func filepathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// GetExistingAsset consults the store (if attached) for a previously
// produced, still-valid product matching this marker. Returns nil, nil
// both when no store is attached and when nothing valid is cached —
// both cases mean the caller should compile.
func (m *Marker) GetExistingAsset() (*artifact.Collection, error) {
	if m.registry.store == nil {
		return nil, nil
	}
	reg, ok := m.registry.lookupRegistration(m.registrationID)
	if !ok {
		return nil, nil
	}
	return m.registry.store.RetrieveCompileProducts(reg.DisplayName, archivableName(m.Initializers))
}

// InvokeCompile returns the marker's active future, creating and
// enqueuing a fresh compile job if none is currently pending. Two
// concurrent calls observe the identical Future and the delegate runs
// exactly once.
func (m *Marker) InvokeCompile() *Future {
	m.mu.Lock()
	if m.activeFuture != nil && m.activeFuture.State() == Pending {
		f := m.activeFuture
		m.mu.Unlock()
		return f
	}
	f := newFuture()
	m.activeFuture = f
	m.mu.Unlock()

	m.registry.pool.submit(func(ctx context.Context) {
		m.registry.runCompileJob(ctx, m, f)
	})
	return f
}

// runCompileJob is the compile-job body (spec §4.4): invoke the
// delegate, serialize matching targets, persist them if a store is
// attached, and settle the future. All failures are caught here and
// turned into a Log-chunk collection; nothing propagates past this
// function.
func (r *Registry) runCompileJob(ctx context.Context, m *Marker, f *Future) {
	startedAt := time.Now()
	displayName := "unknown"

	reg, ok := r.lookupRegistration(m.registrationID)
	if !ok {
		r.recordHistory(ctx, displayName, m, startedAt, Invalid, ErrRegistrationExpired.Error())
		f.set(Invalid, artifact.NewInvalidCollection(ErrRegistrationExpired.Error(), nil))
		return
	}
	displayName = reg.DisplayName

	op, err := reg.Delegate(m.Initializers)
	if err != nil {
		r.recordHistory(ctx, displayName, m, startedAt, Invalid, err.Error())
		r.settleFailure(f, reg, m, nil, err)
		return
	}

	deps := op.GetDependencies()
	targets := op.GetTargets()

	depNode := r.makeDepVal(deps, reg.CompilerDepVal, m.Initializers[0])

	var result *artifact.Collection
	var allChunks []artifact.Chunk
	for i, t := range targets {
		if r.store == nil && t.TypeCode != m.TypeCode {
			continue
		}
		chunks, err := op.SerializeTarget(i)
		if err != nil {
			r.recordHistory(ctx, displayName, m, startedAt, Invalid, err.Error())
			r.settleFailure(f, reg, m, deps, err)
			return
		}
		if t.TypeCode == m.TypeCode && result == nil {
			result = &artifact.Collection{Chunks: chunks, DepNod: depNode, State: Ready}
		}
		if r.store != nil {
			allChunks = append(allChunks, chunks...)
		}
	}

	if r.store != nil && len(allChunks) > 0 {
		if err := r.store.StoreCompileProducts(reg.DisplayName, archivableName(m.Initializers), allChunks, deps, reg.SourceVersion); err != nil {
			r.logger.Warn("store.StoreCompileProducts failed", slog.String("error", err.Error()), slog.String("display_name", reg.DisplayName))
		}
	}

	if result == nil {
		err := fmt.Errorf("no target matched requested type %#x", uint64(m.TypeCode))
		r.recordHistory(ctx, displayName, m, startedAt, Invalid, err.Error())
		r.settleFailure(f, reg, m, deps, err)
		return
	}
	r.recordHistory(ctx, displayName, m, startedAt, Ready, "")
	f.set(Ready, result)
}

// recordHistory writes a build-history audit row if a history repo is
// attached. Failures to record are logged and otherwise ignored — the
// audit trail is diagnostic, not load-bearing for compile correctness.
func (r *Registry) recordHistory(ctx context.Context, displayName string, m *Marker, startedAt time.Time, state State, errMsg string) {
	if r.history == nil {
		return
	}
	outcome := historydb.OutcomeReady
	if state != Ready {
		outcome = historydb.OutcomeInvalid
	}
	completedAt := time.Now()
	rec := &historydb.BuildRecord{
		DisplayName:        displayName,
		TypeCode:           strconv.FormatUint(uint64(m.TypeCode), 16),
		PrimaryInitializer: m.Initializers[0],
		Outcome:            outcome,
		ErrorMsg:           errMsg,
		DurationMs:         completedAt.Sub(startedAt).Milliseconds(),
		StartedAt:          startedAt,
		CompletedAt:        completedAt,
	}
	if err := r.history.Record(ctx, rec); err != nil {
		r.logger.Warn("recording build history failed", slog.String("error", err.Error()))
	}
}

// settleFailure builds the error->log-chunk collection described in
// spec §4.4/§7 and settles f as Invalid.
func (r *Registry) settleFailure(f *Future, reg *Registration, m *Marker, deps []depval.DependentFileState, err error) {
	depNode := r.makeDepVal(deps, reg.CompilerDepVal, m.Initializers[0])
	r.logger.Warn("compile failed", slog.String("error", err.Error()), slog.String("display_name", reg.DisplayName))
	f.set(Invalid, artifact.NewInvalidCollection(err.Error(), depNode))
}

// makeDepVal builds the aggregate dependency-validation node for a
// compile result: one child per reported dependency, plus the
// compiler's own dependency node (so a compiler binary upgrade
// invalidates its outputs too). If deps is empty, the initializer's own
// file is registered as a dependency, matching the boundary behavior
// "a dependency list with zero entries still yields a valid dep-val node,
// registered against the initializer's own filename".
func (r *Registry) makeDepVal(deps []depval.DependentFileState, compilerDepVal *depval.Node, primaryInitializer string) *depval.Node {
	node := r.tracker.NewNode()
	if compilerDepVal != nil {
		_ = r.tracker.RegisterAssetDependency(node, compilerDepVal)
	}
	if len(deps) == 0 {
		r.tracker.RegisterFileDependency(node, primaryInitializer, statModTime)
		return node
	}
	for _, d := range deps {
		r.tracker.RegisterFileDependency(node, d.Filename, statModTime)
	}
	return node
}

func statModTime(path string) (time.Time, error) {
	info, err := osStat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// StallOnPendingOperations waits for the worker pool to drain.
// cancelAll additionally signals workers to abort between jobs (not
// mid-job); it does not cancel jobs already running.
func (r *Registry) StallOnPendingOperations(cancelAll bool) {
	r.pool.stallOnPendingOperations(cancelAll)
}
