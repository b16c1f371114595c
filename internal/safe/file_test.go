package safe

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(regular, []byte("logging:\n  level: info\n"), 0o600))
	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(regular, link))

	t.Run("regular file", func(t *testing.T) {
		data, err := ReadFile(regular, nil)
		require.NoError(t, err)
		assert.Contains(t, string(data), "level: info")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "absent.yaml"), nil)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("symlink rejected by default", func(t *testing.T) {
		_, err := ReadFile(link, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "symlink")
	})

	t.Run("symlink allowed", func(t *testing.T) {
		data, err := ReadFile(link, &ReadOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a regular file")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadFile(regular, &ReadOptions{MaxSize: 4})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maximum allowed size")
	})
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heap.json")

	require.NoError(t, WriteFile(path, 0, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	failure := errors.New("encoder failed")
	err = WriteFile(path, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return failure
	})
	assert.ErrorIs(t, err, failure)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "a failed write keeps the previous file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}
