package storegc

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkGeneration(t *testing.T, root string, n int) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(n))
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".store"), []byte("<Store/>"), 0o640))
}

func TestCollector_Run_KeepsMostRecentGenerations(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, ".int-default")
	for _, n := range []int{0, 1, 2, 3, 4} {
		mkGeneration(t, root, n)
	}

	c, err := New(Options{BaseDir: base, ConfigString: "default", Generations: 2})
	require.NoError(t, err)

	removed, err := c.Run()
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	remaining, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	_, err = os.Stat(filepath.Join(root, "4"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "3"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "0"))
	assert.True(t, os.IsNotExist(err))
}

func TestCollector_Run_SkipsGenerationLockedByLiveProcess(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, ".int-default")
	for _, n := range []int{0, 1, 2} {
		mkGeneration(t, root, n)
	}

	// Simulate a still-running process holding generation 0's store open,
	// the same way internal/store/dirselect.go's resolver does for the
	// store's lifetime.
	lk := flock.New(filepath.Join(root, "0", ".store"))
	locked, err := lk.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lk.Close()

	c, err := New(Options{BaseDir: base, ConfigString: "default", Generations: 1})
	require.NoError(t, err)

	removed, err := c.Run()
	require.NoError(t, err)
	assert.Len(t, removed, 1)
	assert.Contains(t, removed, filepath.Join(root, "1"))

	_, err = os.Stat(filepath.Join(root, "0"))
	assert.NoError(t, err, "a generation whose marker is held open by a live process must survive GC")
	_, err = os.Stat(filepath.Join(root, "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestCollector_Run_NoopUnderLimit(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, ".int-default")
	mkGeneration(t, root, 0)

	c, err := New(Options{BaseDir: base, ConfigString: "default", Generations: 3})
	require.NoError(t, err)

	removed, err := c.Run()
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestCollector_Run_MissingRootIsNotError(t *testing.T) {
	base := t.TempDir()
	c, err := New(Options{BaseDir: base, ConfigString: "default", Generations: 1})
	require.NoError(t, err)

	removed, err := c.Run()
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestNew_RejectsZeroGenerations(t *testing.T) {
	_, err := New(Options{Generations: 0})
	assert.Error(t, err)
}
