package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestResolveFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.hcl"))
	touch(t, filepath.Join(root, "a.hcl"))
	touch(t, filepath.Join(root, "nested", "c.hcl"))
	touch(t, filepath.Join(root, "notes.txt"))

	t.Run("directory is walked in lexical order", func(t *testing.T) {
		files, err := ResolveFiles(root, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "a.hcl"),
			filepath.Join(root, "b.hcl"),
			filepath.Join(root, "nested", "c.hcl"),
		}, files)
	})

	t.Run("single file is returned regardless of extension", func(t *testing.T) {
		path := filepath.Join(root, "notes.txt")
		files, err := ResolveFiles(path, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{path}, files)
	})

	t.Run("directory without matches", func(t *testing.T) {
		_, err := ResolveFiles(filepath.Join(root, "nested"), ".json")
		assert.ErrorIs(t, err, ErrNoFiles)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ResolveFiles(filepath.Join(root, "absent"), ".hcl")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestFindFilesByExtension_EmptyExtension(t *testing.T) {
	_, err := FindFilesByExtension(t.TempDir(), "")
	assert.Error(t, err)
}
