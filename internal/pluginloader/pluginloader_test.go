package pluginloader

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/registry"
)

func TestCrossModulePublishLookupClear(t *testing.T) {
	cm := NewCrossModule()
	cm.Publish("libA", "texture-cache", 1)
	cm.Publish("libB", "shader-cache", 2)

	v, ok := cm.Lookup("texture-cache")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	cm.ClearPublisher("libA")
	_, ok = cm.Lookup("texture-cache")
	assert.False(t, ok)

	v, ok = cm.Lookup("shader-cache")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

// fakeHandler is an in-process stand-in for a compiler plugin daemon,
// letting tests exercise the real gRPC Attach/Detach/Compile path
// rather than hand-seeding AttachableLibrary's unexported fields.
type fakeHandler struct {
	mu           sync.Mutex
	version      LibVersionDesc
	kinds        []FileKind
	attachCalls  int
	detachCalls  int
	compileCalls int
}

func (h *fakeHandler) setVersion(v LibVersionDesc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = v
}

func (h *fakeHandler) Attach(context.Context) (LibVersionDesc, []FileKind, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attachCalls++
	return h.version, h.kinds, nil
}

func (h *fakeHandler) Detach(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachCalls++
	return nil
}

func (h *fakeHandler) Compile(_ context.Context, initializers []string) ([]depval.DependentFileState, []registry.Target, [][]artifact.Chunk, error) {
	h.mu.Lock()
	h.compileCalls++
	h.mu.Unlock()
	targets := []registry.Target{{TypeCode: artifact.HashTypeCode("Texture"), Name: "fake"}}
	chunks := [][]artifact.Chunk{{{TypeCode: targets[0].TypeCode, Name: "fake", Payload: []byte("data")}}}
	return nil, targets, chunks, nil
}

// startFakePlugin starts handler as a real gRPC server on an ephemeral
// loopback port and returns its address plus a stop func.
func startFakePlugin(t *testing.T, handler RemoteCompilerHandler) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer()
	RegisterRemoteCompilerServer(s, handler)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	return lis.Addr().String()
}

func newTestLibrary(target string) *AttachableLibrary {
	return NewAttachableLibrary(target, 2*time.Second, 5*time.Second)
}

func TestAttachableLibraryOpenFailureIsIsolated(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close()) // nothing listens here now

	lib := newTestLibrary(addr)
	err = lib.TryAttach(context.Background(), NewCrossModule())
	assert.ErrorIs(t, err, ErrPluginAttachFailed)
	assert.Equal(t, 0, lib.RefCount())
}

// TestAttachableLibraryRefCountingAndReload exercises the reference
// counting, singleton-clearing, and attach/detach/reload contract
// (spec §8 testable property 7) against a real gRPC plugin server: a
// second TryAttach after the refcount reaches zero must re-dial and
// observe whatever version the plugin is currently reporting, proving
// the reload is real and not just a cached struct field.
func TestAttachableLibraryRefCountingAndReload(t *testing.T) {
	handler := &fakeHandler{version: LibVersionDesc{VersionString: "1.0.0"}}
	addr := startFakePlugin(t, handler)

	cm := NewCrossModule()
	lib := newTestLibrary(addr)

	require.NoError(t, lib.TryAttach(context.Background(), cm))
	assert.Equal(t, 1, lib.RefCount())
	require.NoError(t, lib.TryAttach(context.Background(), cm))
	assert.Equal(t, 2, lib.RefCount())

	v, ok := lib.TryGetVersion()
	require.True(t, ok)
	assert.Equal(t, "1.0.0", v.VersionString)
	assert.Equal(t, 1, handler.attachCalls, "second TryAttach only bumps the refcount, no second RPC")

	lib.Detach(cm, addr)
	assert.Equal(t, 1, lib.RefCount())
	assert.Equal(t, 0, handler.detachCalls)

	lib.Detach(cm, addr)
	assert.Equal(t, 0, lib.RefCount())
	assert.Equal(t, 1, handler.detachCalls)
	_, ok = lib.TryGetVersion()
	assert.False(t, ok, "version is cleared once fully detached")

	// Simulate the plugin process having been rebuilt/upgraded while
	// detached, then attach again: this must reload, not reuse stale state.
	handler.setVersion(LibVersionDesc{VersionString: "2.0.0"})
	require.NoError(t, lib.TryAttach(context.Background(), cm))
	assert.Equal(t, 1, lib.RefCount())
	v, ok = lib.TryGetVersion()
	require.True(t, ok)
	assert.Equal(t, "2.0.0", v.VersionString, "TryAttach after full detach reloads fresh version info")
	assert.Equal(t, 2, handler.attachCalls)
}

func TestAttachableLibraryCreateCompileOperation(t *testing.T) {
	handler := &fakeHandler{version: LibVersionDesc{VersionString: "1.0.0"}}
	addr := startFakePlugin(t, handler)

	cm := NewCrossModule()
	lib := newTestLibrary(addr)
	require.NoError(t, lib.TryAttach(context.Background(), cm))
	defer lib.Detach(cm, addr)

	op, err := lib.CreateCompileOperation([]string{"source.png"})
	require.NoError(t, err)
	assert.Empty(t, op.GetDependencies())

	targets := op.GetTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, "fake", targets[0].Name)

	chunks, err := op.SerializeTarget(0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("data"), chunks[0].Payload)

	_, err = op.SerializeTarget(1)
	assert.Error(t, err)
	assert.Equal(t, 1, handler.compileCalls)
}

type fakeHost struct {
	registered []string
}

func (h *fakeHost) RegisterCompiler(_ *regexp.Regexp, _ []artifact.TypeCode, displayName, _ string, _ *depval.Node, _ registry.Delegate) (uint64, error) {
	h.registered = append(h.registered, displayName)
	return uint64(len(h.registered)), nil
}

func writeManifest(t *testing.T, dir, name, target string) {
	t.Helper()
	data, err := json.Marshal(pluginManifest{Target: target})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestDiscoverCompileOperationsNoMatches(t *testing.T) {
	dir := t.TempDir()
	host := &fakeHost{}
	ids, err := DiscoverCompileOperations(context.Background(), host, NewCrossModule(), dir, "*.plugin", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDiscoverCompileOperationsRegistersFakePlugin(t *testing.T) {
	handler := &fakeHandler{
		version: LibVersionDesc{VersionString: "1.0.0"},
		kinds: []FileKind{{
			AssetTypes:  []artifact.TypeCode{artifact.HashTypeCode("Texture")},
			RegexFilter: `\.png$`,
			DisplayName: "Texture",
		}},
	}
	addr := startFakePlugin(t, handler)

	dir := t.TempDir()
	writeManifest(t, dir, "texture.plugin", addr)

	host := &fakeHost{}
	ids, err := DiscoverCompileOperations(context.Background(), host, NewCrossModule(), dir, "*.plugin", 0, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, []string{"Texture"}, host.registered)
}

func TestDiscoverCompileOperationsIsolatesAttachFailure(t *testing.T) {
	dir := t.TempDir()
	// A manifest pointing at an address nothing is listening on.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	writeManifest(t, dir, "dead.plugin", addr)

	host := &fakeHost{}
	ids, err := DiscoverCompileOperations(context.Background(), host, NewCrossModule(), dir, "*.plugin", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, host.registered)
}

func TestDiscoverCompileOperationsIsolatesBadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notjson.plugin"), []byte("not json"), 0o644))

	host := &fakeHost{}
	ids, err := DiscoverCompileOperations(context.Background(), host, NewCrossModule(), dir, "*.plugin", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, host.registered)
}

func TestDiscoverCompileOperationsBadPattern(t *testing.T) {
	dir := t.TempDir()
	host := &fakeHost{}
	_, err := DiscoverCompileOperations(context.Background(), host, NewCrossModule(), dir, "[", 0, nil)
	assert.Error(t, err)
}
