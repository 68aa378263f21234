package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
)

func writeSourceFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("source"), 0640))
	return path
}

func TestResolveDirPicksSmallestUnused(t *testing.T) {
	tmp := t.TempDir()
	dir1, lk1, err := resolveDir(tmp, "v1", "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".int-cfg", "0"), dir1)

	// While dir1's marker is still locked (this "process" hasn't released
	// it), a second resolver for the same version must NOT re-adopt it —
	// the lock is what proves the directory is free, not just the version
	// string matching. It falls through to a fresh directory instead.
	dir2, lk2, err := resolveDir(tmp, "v1", "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".int-cfg", "1"), dir2)
	require.NoError(t, lk2.Close())

	// Once dir1's lock is released, a fresh resolve for the same version
	// re-adopts it rather than allocating yet another directory.
	require.NoError(t, lk1.Close())
	dir3, lk3, err := resolveDir(tmp, "v1", "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, dir1, dir3)
	require.NoError(t, lk3.Close())

	// Different version string: must allocate a fresh directory.
	dir4, lk4, err := resolveDir(tmp, "v2", "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".int-cfg", "2"), dir4)
	require.NoError(t, lk4.Close())
}

func TestResolveDirUniversal(t *testing.T) {
	tmp := t.TempDir()
	dir, lk, err := resolveDir(tmp, "v1", "cfg", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".int", "u"), dir)
	require.NoError(t, lk.Close())
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	srcDir := t.TempDir()
	src := writeSourceFile(t, srcDir, "foo.dae")
	info, err := os.Stat(src)
	require.NoError(t, err)

	tracker := depval.New(depval.DefaultFilenameRules)
	s := New(Config{BaseDir: tmp, VersionString: "v1", ConfigString: "cfg"}, tracker)

	chunks := []artifact.Chunk{{TypeCode: artifact.HashTypeCode("Model"), Version: 1, Name: "geo", Payload: []byte("geometry")}}
	deps := []depval.DependentFileState{{Filename: src, ModTime: info.ModTime(), Status: depval.Normal}}

	require.NoError(t, s.StoreCompileProducts("colladacompiler", "foo", chunks, deps, "v1"))

	coll, err := s.RetrieveCompileProducts("colladacompiler", "foo")
	require.NoError(t, err)
	require.NotNil(t, coll)
	require.Len(t, coll.Chunks, 1)
	assert.Equal(t, []byte("geometry"), coll.Chunks[0].Payload)
}

func TestRetrieveMissingReturnsNil(t *testing.T) {
	tmp := t.TempDir()
	s := New(Config{BaseDir: tmp, VersionString: "v1", ConfigString: "cfg"}, nil)

	coll, err := s.RetrieveCompileProducts("nope", "missing")
	require.NoError(t, err)
	assert.Nil(t, coll)
}

func TestRetrieveInvalidatedByTouchedSource(t *testing.T) {
	tmp := t.TempDir()
	srcDir := t.TempDir()
	src := writeSourceFile(t, srcDir, "bar.dae")
	info, err := os.Stat(src)
	require.NoError(t, err)

	tracker := depval.New(depval.DefaultFilenameRules)
	s := New(Config{BaseDir: tmp, VersionString: "v1", ConfigString: "cfg"}, tracker)

	chunks := []artifact.Chunk{{TypeCode: artifact.HashTypeCode("Model"), Version: 1, Name: "geo", Payload: []byte("geometry")}}
	deps := []depval.DependentFileState{{Filename: src, ModTime: info.ModTime(), Status: depval.Normal}}
	require.NoError(t, s.StoreCompileProducts("colladacompiler", "bar", chunks, deps, "v1"))

	// Touch the source so its mtime changes.
	future := info.ModTime().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(src, future, future))

	coll, err := s.RetrieveCompileProducts("colladacompiler", "bar")
	require.NoError(t, err)
	assert.Nil(t, coll)
}

func TestStoreConflictAndReadInProgress(t *testing.T) {
	tmp := t.TempDir()
	s := New(Config{BaseDir: tmp, VersionString: "v1", ConfigString: "cfg"}, nil)

	groupID, err := s.RegisterGroup("g")
	require.NoError(t, err)
	key := s.key(groupID, "x")

	release, err := s.acquireStore(key)
	require.NoError(t, err)
	_, err = s.acquireStore(key)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.acquireRead(key)
	assert.ErrorIs(t, err, ErrConflict)
	release()

	releaseRead, err := s.acquireRead(key)
	require.NoError(t, err)
	_, err = s.acquireStore(key)
	assert.ErrorIs(t, err, ErrReadInProgress)
	releaseRead()

	_, err = s.acquireStore(key)
	assert.NoError(t, err)
}

func TestSanitizeArchivableName(t *testing.T) {
	assert.Equal(t, "a-b-c", sanitize("a:b*c"))
}

func TestStoreCloseReleasesDirectoryLock(t *testing.T) {
	tmp := t.TempDir()
	s := New(Config{BaseDir: tmp, VersionString: "v1", ConfigString: "cfg"}, nil)

	_, err := s.RegisterGroup("g")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// With s's lock released, a fresh resolve for the same version must
	// be able to re-adopt the same directory rather than falling through.
	dir, lk, err := resolveDir(tmp, "v1", "cfg", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, ".int-cfg", "0"), dir)
	require.NoError(t, lk.Close())
}

func TestStoreCloseBeforeUseIsNoop(t *testing.T) {
	s := New(Config{BaseDir: t.TempDir(), VersionString: "v1", ConfigString: "cfg"}, nil)
	assert.NoError(t, s.Close())
}
