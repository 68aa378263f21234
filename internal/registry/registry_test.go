package registry

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
)

const modelType = artifact.TypeCode(0xdeadbeef)

type fakeOp struct {
	targets []Target
	chunks  map[int][]artifact.Chunk
	deps    []depval.DependentFileState
	err     error
}

func (f *fakeOp) GetDependencies() []depval.DependentFileState { return f.deps }
func (f *fakeOp) GetTargets() []Target                          { return f.targets }
func (f *fakeOp) SerializeTarget(i int) ([]artifact.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks[i], nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(context.Background(), Options{Tracker: depval.New(depval.DefaultFilenameRules), Concurrency: 4})
}

func TestPrepareCoalescesIdenticalRequests(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.RegisterCompiler(regexp.MustCompile(`\.dae$`), []artifact.TypeCode{modelType}, "colladacompiler", "v1", nil,
		func(initializers []string) (CompileOperation, error) { return &fakeOp{}, nil })
	require.NoError(t, err)

	m1, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)
	m2, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestPrepareNoMatch(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Prepare(modelType, []string{"foo.dae"})
	assert.ErrorIs(t, err, ErrNoMatchingCompiler)
}

func TestInvokeCompileSettlesReady(t *testing.T) {
	r := newTestRegistry(t)
	op := &fakeOp{
		targets: []Target{{TypeCode: modelType, Name: "foo"}},
		chunks:  map[int][]artifact.Chunk{0: {{TypeCode: modelType, Version: 1, Payload: []byte("geo")}}},
	}
	_, err := r.RegisterCompiler(regexp.MustCompile(`\.dae$`), []artifact.TypeCode{modelType}, "colladacompiler", "v1", nil,
		func(initializers []string) (CompileOperation, error) { return op, nil })
	require.NoError(t, err)

	m, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)

	f := m.InvokeCompile()
	coll, state, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, state)
	require.Len(t, coll.Chunks, 1)
	assert.Equal(t, []byte("geo"), coll.Chunks[0].Payload)
}

func TestInvokeCompileConcurrentCallsShareFuture(t *testing.T) {
	r := newTestRegistry(t)
	var calls int
	var mu sync.Mutex
	op := &fakeOp{
		targets: []Target{{TypeCode: modelType, Name: "foo"}},
		chunks:  map[int][]artifact.Chunk{0: {{TypeCode: modelType, Version: 1, Payload: []byte("geo")}}},
	}
	_, err := r.RegisterCompiler(regexp.MustCompile(`\.dae$`), []artifact.TypeCode{modelType}, "colladacompiler", "v1", nil,
		func(initializers []string) (CompileOperation, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return op, nil
		})
	require.NoError(t, err)

	m, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	futures := make([]*Future, 8)
	for i := range futures {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = m.InvokeCompile()
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(futures); i++ {
		assert.Same(t, futures[0], futures[i])
	}
	_, _, err = futures[0].Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestCompileFailureProducesLogChunk(t *testing.T) {
	r := newTestRegistry(t)
	failErr := fmt.Errorf("bad vertex count at line 17")
	_, err := r.RegisterCompiler(regexp.MustCompile(`\.dae$`), []artifact.TypeCode{modelType}, "colladacompiler", "v1", nil,
		func(initializers []string) (CompileOperation, error) { return nil, failErr })
	require.NoError(t, err)

	m, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)

	f := m.InvokeCompile()
	coll, state, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Invalid, state)
	assert.True(t, coll.IsInvalid())
	msg, ok := coll.LogMessage()
	require.True(t, ok)
	assert.Contains(t, msg, "line 17")
}

func TestDeregisterExpiresFutureCompiles(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.RegisterCompiler(regexp.MustCompile(`\.dae$`), []artifact.TypeCode{modelType}, "colladacompiler", "v1", nil,
		func(initializers []string) (CompileOperation, error) { return &fakeOp{targets: []Target{{TypeCode: modelType}}}, nil })
	require.NoError(t, err)

	m, err := r.Prepare(modelType, []string{"foo.dae"})
	require.NoError(t, err)

	r.DeregisterCompiler(id)

	f := m.InvokeCompile()
	coll, state, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Invalid, state)
	assert.True(t, coll.IsInvalid())
}
