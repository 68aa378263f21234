package registry

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
)

// Target is one named output of a compile operation, identified by a
// type code.
type Target struct {
	TypeCode artifact.TypeCode
	Name     string
}

// CompileOperation is what a compiler delegate returns for one request.
// It is the Go-side shape of the plugin ABI's ICompileOperation.
type CompileOperation interface {
	GetDependencies() []depval.DependentFileState
	GetTargets() []Target
	SerializeTarget(i int) ([]artifact.Chunk, error)
}

// Delegate is the closure registered with the registry that, given the
// marker's initializers, produces a CompileOperation.
type Delegate func(initializers []string) (CompileOperation, error)

// Registration is one registered compiler delegate.
type Registration struct {
	ID             uint64
	Regex          *regexp.Regexp
	OutputTypes    []artifact.TypeCode
	DisplayName    string
	SourceVersion  string
	CompilerDepVal *depval.Node
	Delegate       Delegate
	StoreGroupID   uint64
}

func (r *Registration) handlesType(t artifact.TypeCode) bool {
	for _, ot := range r.OutputTypes {
		if ot == t {
			return true
		}
	}
	return false
}

// State is the terminal state of a Future.
type State int

const (
	Pending State = iota
	Ready
	Invalid
)

// Future is a one-shot handle settled exactly once with either a ready
// artifact collection or an invalid (error) one. It is never retried via
// the same Future instance; a new compile attempt gets a new Future.
type Future struct {
	mu         sync.Mutex
	settled    bool
	state      State
	collection *artifact.Collection
	done       chan struct{}
}

func newFuture() *Future {
	return &Future{state: Pending, done: make(chan struct{})}
}

func (f *Future) set(state State, coll *artifact.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return
	}
	f.settled = true
	f.state = state
	f.collection = coll
	close(f.done)
}

// State returns the future's current state without blocking.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (*artifact.Collection, State, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.collection, f.state, nil
	case <-ctx.Done():
		return nil, Pending, ctx.Err()
	}
}

// Errors returned by the registry. These mirror the error-kind vocabulary
// from the pipeline's error handling design (MissingFile/NotFound family).
var (
	ErrNoMatchingCompiler  = errors.New("registry: no compiler registered for this type and initializer")
	ErrRegistrationExpired = errors.New("registry: compiler registration no longer exists")
)

// Marker is a cached request handle, keyed by (type_code, initializers),
// that coalesces concurrent requests for the same compile. Per the design
// notes, a Marker holds only a capability id (registration id) and
// re-resolves it against the registry at compile time rather than a
// strong pointer to the Registration, so a deregistered compiler simply
// causes the next compile attempt to settle Invalid with
// ErrRegistrationExpired's message instead of leaving a dangling
// reference.
type Marker struct {
	TypeCode       artifact.TypeCode
	Initializers   []string
	registrationID uint64
	registry       *Registry

	mu           sync.Mutex
	activeFuture *Future
}
