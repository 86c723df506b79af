package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sortd/internal/nameparse"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".sortd", "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCategories(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddCategory("Docs", "/root/docs"))
	require.NoError(t, s.AddCategory("data", "/root/data"))

	cats, err := s.Categories()
	require.NoError(t, err)
	// Names are stored lower-cased for case-insensitive matching.
	assert.Equal(t, map[string]string{"docs": "/root/docs", "data": "/root/data"}, cats)

	t.Run("upsert replaces path", func(t *testing.T) {
		require.NoError(t, s.AddCategory("docs", "/root/documents"))
		cats, err := s.Categories()
		require.NoError(t, err)
		assert.Equal(t, "/root/documents", cats["docs"])
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.RemoveCategory("DOCS"))
		cats, err := s.Categories()
		require.NoError(t, err)
		assert.NotContains(t, cats, "docs")
	})

	t.Run("empty name rejected", func(t *testing.T) {
		assert.Error(t, s.AddCategory("  ", "/x"))
	})
}

func TestSyncCategoriesFromRoot(t *testing.T) {
	s := openTestStore(t)
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Invoices"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "Photos"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".sortd"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "loose.txt"), []byte("x"), 0644))

	added, err := s.SyncCategoriesFromRoot(root)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	cats, err := s.Categories()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Invoices"), cats["invoices"])
	assert.Equal(t, filepath.Join(root, "Photos"), cats["photos"])
	assert.NotContains(t, cats, ".sortd")

	// A removed folder's category is dropped on the next sync; entries
	// pointing elsewhere survive.
	elsewhere := t.TempDir()
	require.NoError(t, s.AddCategory("external", elsewhere))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "Photos")))

	_, err = s.SyncCategoriesFromRoot(root)
	require.NoError(t, err)

	cats, err = s.Categories()
	require.NoError(t, err)
	assert.NotContains(t, cats, "photos")
	assert.Contains(t, cats, "invoices")
	assert.Contains(t, cats, "external")
}

func TestNotes(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetNote("a.pdf", "tax form from 2023"))
	require.NoError(t, s.SetNote("a.pdf", "tax form, amended"))

	note, err := s.Note("a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "tax form, amended", note)

	missing, err := s.Note("ghost.txt")
	require.NoError(t, err)
	assert.Empty(t, missing)

	all, err := s.Notes()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIndexRoundTrip(t *testing.T) {
	s := openTestStore(t)
	root := "/home/u/SortMe"

	entries := []IndexEntry{
		{Path: root + "/CS101_hw1.pdf", Name: "CS101_hw1.pdf", Extension: ".pdf",
			Meta: nameparse.Metadata{CourseCode: "CS101", DocType: "assignment"}},
		{Path: root + "/sales.csv", Name: "sales.csv", Extension: ".csv",
			Meta: nameparse.Metadata{Keywords: []string{"sales"}}},
	}
	require.NoError(t, s.ReplaceIndex(root, entries))

	got, err := s.IndexEntries()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CS101", got[0].Meta.CourseCode)
	assert.Equal(t, []string{"sales"}, got[1].Meta.Keywords)

	t.Run("replace swaps atomically", func(t *testing.T) {
		require.NoError(t, s.ReplaceIndex(root, entries[:1]))
		got, err := s.IndexEntries()
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestScanInfoAndFreshness(t *testing.T) {
	s := openTestStore(t)
	root := "/home/u/SortMe"

	_, ok, err := s.LastScan()
	require.NoError(t, err)
	assert.False(t, ok, "no scan recorded yet")

	fresh, err := s.IndexFresh(root, 0)
	require.NoError(t, err)
	assert.False(t, fresh, "never-scanned index is stale")

	require.NoError(t, s.ReplaceIndex(root, []IndexEntry{
		{Path: root + "/a.txt", Name: "a.txt", Extension: ".txt"},
	}))

	info, ok, err := s.LastScan()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root, info.Root)
	assert.Equal(t, 1, info.FileCount)
	assert.WithinDuration(t, time.Now(), info.IndexedAt, 5*time.Second)

	t.Run("fresh for matching root and count", func(t *testing.T) {
		fresh, err := s.IndexFresh(root, 1)
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("stale when count drifts", func(t *testing.T) {
		fresh, err := s.IndexFresh(root, 3)
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("stale for different root", func(t *testing.T) {
		fresh, err := s.IndexFresh("/elsewhere", 1)
		require.NoError(t, err)
		assert.False(t, fresh)
	})
}
