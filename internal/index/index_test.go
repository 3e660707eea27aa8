package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var noHash = func() (string, error) {
	panic("hash must not be invoked for this case")
}

func prevIndex(t *testing.T) *Index {
	t.Helper()
	idx := New([]string{"/src"}, time.Date(2025, 1, 11, 2, 0, 0, 0, time.UTC))
	idx.Files["/src/a.txt"] = Entry{
		Size:     100,
		Modified: time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC),
		Hash:     "aaaa",
	}
	return idx
}

func TestClassifyAddedWhenNoPreviousIndex(t *testing.T) {
	c, h, err := Classify(nil, "/src/new.txt", CurrentFile{Size: 5}, func() (string, error) {
		return "ffff", nil
	})
	require.NoError(t, err)
	require.Equal(t, Added, c)
	require.Equal(t, "ffff", h)
	require.True(t, c.Included())
}

func TestClassifyAddedWhenPathUnknown(t *testing.T) {
	c, h, err := Classify(prevIndex(t), "/src/new.txt", CurrentFile{Size: 5}, func() (string, error) {
		return "ffff", nil
	})
	require.NoError(t, err)
	require.Equal(t, Added, c)
	require.Equal(t, "ffff", h)
}

func TestClassifyUnchangedSkipsHashing(t *testing.T) {
	prev := prevIndex(t)
	old := prev.Files["/src/a.txt"]

	c, h, err := Classify(prev, "/src/a.txt", CurrentFile{Size: old.Size, Modified: old.Modified}, noHash)
	require.NoError(t, err)
	require.Equal(t, Unchanged, c)
	require.Equal(t, old.Hash, h, "unchanged files reuse the recorded hash")
	require.False(t, c.Included())
}

func TestClassifyModifiedWhenHashDiffers(t *testing.T) {
	prev := prevIndex(t)
	old := prev.Files["/src/a.txt"]

	c, h, err := Classify(prev, "/src/a.txt", CurrentFile{Size: old.Size + 1, Modified: old.Modified}, func() (string, error) {
		return "bbbb", nil
	})
	require.NoError(t, err)
	require.Equal(t, Modified, c)
	require.Equal(t, "bbbb", h)
	require.True(t, c.Included())
}

func TestClassifyMetadataChangedWhenHashMatches(t *testing.T) {
	prev := prevIndex(t)
	old := prev.Files["/src/a.txt"]

	// mtime moved but content (hash) is identical: a touch, not an edit.
	c, _, err := Classify(prev, "/src/a.txt", CurrentFile{Size: old.Size, Modified: old.Modified.Add(time.Hour)}, func() (string, error) {
		return old.Hash, nil
	})
	require.NoError(t, err)
	require.Equal(t, MetadataChanged, c)
	require.False(t, c.Included())
}

func TestRemovedPaths(t *testing.T) {
	prev := prevIndex(t)
	prev.Files["/src/b.txt"] = Entry{Size: 1, Hash: "bbbb"}

	seen := map[string]struct{}{"/src/a.txt": {}}
	removed := RemovedPaths(prev, seen)
	require.Equal(t, []string{"/src/b.txt"}, removed)

	require.Nil(t, RemovedPaths(nil, seen))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := BackupPath(dir, "backup_20250112_020000")

	idx := prevIndex(t)
	idx.BackupID = "backup_20250112_020000"
	require.NoError(t, Save(path, idx))

	got, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, idx.BackupID, got.BackupID)
	require.Equal(t, idx.TrackedDirs, got.TrackedDirs)
	require.Equal(t, idx.Files["/src/a.txt"].Hash, got.Files["/src/a.txt"].Hash)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	got, err := Load(LatestPath(t.TempDir()))
	require.NoError(t, err)
	require.Nil(t, got, "a missing index means full backup, not an error")
}

func TestClassificationStrings(t *testing.T) {
	require.Equal(t, "Added", Added.String())
	require.Equal(t, "MetadataChanged", MetadataChanged.String())
	require.Equal(t, "Unchanged", Unchanged.String())
}
