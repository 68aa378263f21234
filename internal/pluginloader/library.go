// Package pluginloader attaches and detaches compiler plugins and
// discovers the compile operations they export. The plugin ABI runs
// out-of-process over gRPC (remote.go): Go's standard library plugin
// package is the only in-process dlopen-style mechanism available, but
// it is Linux-only, CGO-gated, and — critically — cannot unload or
// reload a library once opened, which makes it structurally unable to
// satisfy the attach/detach/reload contract below (TryAttach then
// Detach then TryAttach again must reload with fresh version info).
// Dialing a fresh gRPC connection on re-attach genuinely restarts
// against whatever the target process is currently running, so the
// contract holds for real.
package pluginloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/registry"
)

// LibVersionDesc is the version descriptor a plugin reports on Attach.
type LibVersionDesc struct {
	VersionString   string `json:"version_string"`
	BuildDateString string `json:"build_date_string"`
}

// FileKind is one entry of a compiler's self-description: the asset
// types it produces, the regex that selects it, and display metadata.
type FileKind struct {
	AssetTypes           []artifact.TypeCode `json:"asset_types"`
	RegexFilter          string              `json:"regex_filter"`
	DisplayName          string              `json:"display_name"`
	ExtensionsForOpenDlg []string            `json:"extensions_for_open_dlg"`
}

// ErrPluginAttachFailed wraps dial and RPC failures; callers
// (DiscoverCompileOperations) log and skip the candidate rather than
// propagating it.
var ErrPluginAttachFailed = errors.New("pluginloader: attach failed")

// AttachableLibrary is a reference-counted handle on one compiler
// plugin daemon, dialed at Target. The first TryAttach call connects
// and invokes its Attach RPC; later calls only bump the count. Detach
// mirrors this in reverse, closing the connection once the count
// reaches zero.
type AttachableLibrary struct {
	Target      string
	DialTimeout time.Duration
	CallTimeout time.Duration
	DialOptions []grpc.DialOption

	mu       sync.Mutex
	refCount int
	client   *RemoteCompileClient
	version  LibVersionDesc
	kinds    []FileKind
}

// NewAttachableLibrary creates a handle for the plugin daemon listening
// at target, without dialing it.
func NewAttachableLibrary(target string, dialTimeout, callTimeout time.Duration) *AttachableLibrary {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	return &AttachableLibrary{
		Target:      target,
		DialTimeout: dialTimeout,
		CallTimeout: callTimeout,
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
}

// TryAttach dials Target on the first call and invokes its Attach RPC
// to fetch version info and exported file kinds; later calls only
// increment the reference count. cm is cleared of this library's
// published entries on the matching Detach.
func (a *AttachableLibrary) TryAttach(ctx context.Context, cm *CrossModule) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refCount > 0 {
		a.refCount++
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.DialTimeout)
	defer cancel()

	client, err := DialRemoteCompiler(a.Target, a.CallTimeout, a.DialOptions...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPluginAttachFailed, err)
	}

	version, kinds, err := client.Attach(dialCtx)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: %s: %v", ErrPluginAttachFailed, a.Target, err)
	}

	a.client = client
	a.version = version
	a.kinds = kinds
	a.refCount = 1
	return nil
}

// Detach decrements the reference count; at zero it invokes the
// plugin's Detach RPC, closes the connection, and clears every
// singleton this publisher registered into cm (conventionally keyed by
// the library's Target).
func (a *AttachableLibrary) Detach(cm *CrossModule, publisherID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refCount == 0 {
		return
	}
	a.refCount--
	if a.refCount > 0 {
		return
	}

	if a.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.CallTimeout)
		_ = a.client.Detach(ctx)
		cancel()
		_ = a.client.Close()
	}
	if cm != nil {
		cm.ClearPublisher(publisherID)
	}
	a.client = nil
	a.version = LibVersionDesc{}
	a.kinds = nil
}

// TryGetVersion returns the version descriptor cached from the most
// recent successful attach.
func (a *AttachableLibrary) TryGetVersion() (LibVersionDesc, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refCount == 0 {
		return LibVersionDesc{}, false
	}
	return a.version, true
}

// RefCount reports the current attach count (for tests/diagnostics).
func (a *AttachableLibrary) RefCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refCount
}

// FileKinds returns the file kinds reported by the most recent
// successful attach.
func (a *AttachableLibrary) FileKinds() []FileKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kinds
}

// CreateCompileOperation runs one compile operation against the
// attached plugin and returns the registry.CompileOperation view over
// its result. Called once per marker invocation; the plugin computes
// dependencies, targets, and every target's serialized chunks in one
// round trip (see remoteCompileResult in remote.go).
func (a *AttachableLibrary) CreateCompileOperation(initializers []string) (registry.CompileOperation, error) {
	a.mu.Lock()
	client := a.client
	callTimeout := a.CallTimeout
	a.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("pluginloader: %s not attached", a.Target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result, err := client.Compile(ctx, initializers)
	if err != nil {
		return nil, err
	}
	return &remoteCompileOperation{result: result}, nil
}

// remoteCompileOperation adapts one remoteCompileResult to
// registry.CompileOperation.
type remoteCompileOperation struct {
	result *remoteCompileResult
}

func (o *remoteCompileOperation) GetDependencies() []depval.DependentFileState {
	return o.result.Dependencies
}

func (o *remoteCompileOperation) GetTargets() []registry.Target {
	targets := make([]registry.Target, len(o.result.Targets))
	for i, t := range o.result.Targets {
		targets[i] = registry.Target{TypeCode: t.TypeCode, Name: t.Name}
	}
	return targets
}

func (o *remoteCompileOperation) SerializeTarget(i int) ([]artifact.Chunk, error) {
	if i < 0 || i >= len(o.result.Chunks) {
		return nil, fmt.Errorf("pluginloader: target index %d out of range", i)
	}
	return o.result.Chunks[i], nil
}
