package depval

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilenameRulesNormalize(t *testing.T) {
	r := DefaultFilenameRules
	assert.Equal(t, "models/foo.dae", r.Normalize(`Models\Foo.dae`))
	assert.Equal(t, r.Hash("A.txt"), r.Hash("a.txt"))
	assert.Equal(t, r.Hash(`dir\a.txt`), r.Hash("dir/a.txt"))
}

func TestRecordForMemoized(t *testing.T) {
	tr := New(DefaultFilenameRules)
	a := tr.recordFor("foo.dae", nil)
	b := tr.recordFor("FOO.DAE", nil)
	assert.Same(t, a, b)
}

func TestRegisterAssetDependencyDetectsCycle(t *testing.T) {
	tr := New(DefaultFilenameRules)
	n1 := tr.NewNode()
	n2 := tr.NewNode()

	require.NoError(t, tr.RegisterAssetDependency(n1, n2))
	err := tr.RegisterAssetDependency(n2, n1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclic))
}

func TestOnChangeBumpsTransitiveParents(t *testing.T) {
	tr := New(DefaultFilenameRules)
	artifact := tr.NewNode()
	rec := tr.RegisterFileDependency(artifact, "a.dae", func(string) (time.Time, error) {
		return time.Unix(1000, 0), nil
	})

	assert.Equal(t, uint64(0), artifact.ValidationIndex())

	tr.OnChange(rec, DependentFileState{Filename: "a.dae", ModTime: time.Unix(2000, 0), Status: Normal})
	assert.Equal(t, uint64(1), artifact.ValidationIndex())
}

func TestShadowFileInvalidatesDownstream(t *testing.T) {
	tr := New(DefaultFilenameRules)
	artifact := tr.NewNode()
	tr.RegisterFileDependency(artifact, "b.dae", func(string) (time.Time, error) {
		return time.Unix(1000, 0), nil
	})

	before := artifact.ValidationIndex()
	tr.ShadowFile("b.dae")
	assert.Greater(t, artifact.ValidationIndex(), before)
}

func TestTryRegisterDependency(t *testing.T) {
	tr := New(DefaultFilenameRules)
	stat := func(string) (time.Time, error) { return time.Unix(500, 0), nil }

	node := tr.NewNode()
	reason := tr.TryRegisterDependency(node, DependentFileState{
		Filename: "c.dae", ModTime: time.Unix(500, 0), Status: Normal,
	}, stat)
	assert.Equal(t, Valid, reason)

	reason = tr.TryRegisterDependency(node, DependentFileState{
		Filename: "c.dae", ModTime: time.Unix(999, 0), Status: Normal,
	}, stat)
	assert.Equal(t, ReasonTimeDiffers, reason)

	reason = tr.TryRegisterDependency(node, DependentFileState{
		Filename: "missing.dae", ModTime: time.Unix(500, 0), Status: Normal,
	}, func(string) (time.Time, error) { return time.Time{}, errors.New("not found") })
	assert.Equal(t, ReasonMissing, reason)

	reason = tr.TryRegisterDependency(node, DependentFileState{
		Filename: "shadowed.dae", Status: Shadowed,
	}, stat)
	assert.Equal(t, ReasonShadowed, reason)
}
