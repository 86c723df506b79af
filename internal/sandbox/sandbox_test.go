package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	root := t.TempDir()
	// TempDir may sit behind a symlink on some platforms (macOS /var -> /private/var).
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	sb, err := New(root)
	require.NoError(t, err)
	return sb, resolved
}

func TestNewRejectsBadRoots(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := New("   ")
		assert.ErrorIs(t, err, ErrEmptyPath)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "does-not-exist"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("regular file", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
		_, err := New(f)
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestRequireAllowedContainment(t *testing.T) {
	sb, root := newTestSandbox(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0755))

	t.Run("root itself is allowed", func(t *testing.T) {
		got, err := sb.RequireAllowed(root)
		require.NoError(t, err)
		assert.Equal(t, root, got)
	})

	t.Run("descendant is allowed", func(t *testing.T) {
		got, err := sb.RequireAllowed(filepath.Join(root, "docs"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "docs"), got)
	})

	t.Run("nonexistent descendant is allowed", func(t *testing.T) {
		got, err := sb.RequireAllowed(filepath.Join(root, "docs", "new", "deep.txt"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "docs", "new", "deep.txt"), got)
	})

	t.Run("system path is denied", func(t *testing.T) {
		_, err := sb.RequireAllowed("/etc/evil")
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})

	t.Run("sibling with shared prefix is denied", func(t *testing.T) {
		// /tmp/xyz-extra must not pass a naive prefix check against /tmp/xyz.
		_, err := sb.RequireAllowed(root + "-extra")
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})

	t.Run("dotdot escape is denied", func(t *testing.T) {
		_, err := sb.RequireAllowed(filepath.Join(root, "docs", "..", "..", "escape.txt"))
		assert.ErrorIs(t, err, ErrOutsideRoot)
	})

	t.Run("empty path is invalid not outside", func(t *testing.T) {
		_, err := sb.RequireAllowed("")
		assert.ErrorIs(t, err, ErrEmptyPath)
		assert.NotErrorIs(t, err, ErrOutsideRoot)
	})
}

func TestExpandMacrosAndRelative(t *testing.T) {
	sb, root := newTestSandbox(t)

	t.Run("root macro", func(t *testing.T) {
		got, err := sb.Expand("{ROOT}/inbox/report.pdf")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "inbox", "report.pdf"), got)
	})

	t.Run("relative anchors at root", func(t *testing.T) {
		got, err := sb.Expand("inbox/report.pdf")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "inbox", "report.pdf"), got)
	})

	t.Run("tilde expands to home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)
		got, err := sb.Expand("~/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "notes.txt"), got)
	})
}

func TestSymlinkEscapeDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires privileges on windows")
	}

	sb, root := newTestSandbox(t)
	outside := t.TempDir()

	link := filepath.Join(root, "sneaky")
	require.NoError(t, os.Symlink(outside, link))

	// The link exists inside the root but resolves outside it. Both the
	// link itself and paths beneath it must be denied.
	_, err := sb.RequireAllowed(link)
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = sb.RequireAllowed(filepath.Join(link, "payload.txt"))
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestSetRoot(t *testing.T) {
	sb, oldRoot := newTestSandbox(t)

	next := t.TempDir()
	nextResolved, err := filepath.EvalSymlinks(next)
	require.NoError(t, err)

	require.NoError(t, sb.SetRoot(next))
	assert.Equal(t, nextResolved, sb.Root())

	// The old root is now outside territory.
	_, err = sb.RequireAllowed(filepath.Join(oldRoot, "file.txt"))
	assert.ErrorIs(t, err, ErrOutsideRoot)

	// A bad new root leaves the current one in force.
	assert.Error(t, sb.SetRoot(filepath.Join(next, "missing")))
	assert.Equal(t, nextResolved, sb.Root())
}

func TestIsContainedIsPureOnNormalizedPaths(t *testing.T) {
	sb, root := newTestSandbox(t)

	assert.True(t, sb.IsContained(root))
	assert.True(t, sb.IsContained(filepath.Join(root, "a", "b")))
	assert.False(t, sb.IsContained(filepath.Dir(root)))
	assert.False(t, sb.IsContained(root+"2"))
	assert.False(t, sb.IsContained("/"))
}
