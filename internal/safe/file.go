// Package safe provides guarded file access and overflow-checked integer
// conversions.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize is the default maximum size accepted by ReadFile (1MB).
const DefaultMaxFileSize = 1 << 20

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// MaxSize is the maximum allowed file size in bytes. Zero means DefaultMaxFileSize.
	MaxSize int64
	// AllowSymlinks allows reading through a symlink.
	AllowSymlinks bool
}

// ReadFile reads a regular file of bounded size. Symlinks are rejected
// unless opts allows them. A missing file yields an error satisfying
// errors.Is(err, fs.ErrNotExist).
func ReadFile(path string, opts *ReadOptions) ([]byte, error) {
	if opts == nil {
		opts = &ReadOptions{}
	}
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	cleanPath := filepath.Clean(path)
	info, err := os.Lstat(cleanPath)
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !opts.AllowSymlinks {
			return nil, fmt.Errorf("file %q is a symlink, which is not allowed", path)
		}
		info, err = os.Stat(cleanPath)
		if err != nil {
			return nil, err
		}
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file %q exceeds maximum allowed size of %d bytes", path, maxSize)
	}

	// #nosec G304 - the path has been validated above.
	return os.ReadFile(cleanPath)
}

// WriteFile writes the output of write to path through a temporary file in
// the same directory, renamed into place on success. A failed write leaves
// any existing file at path untouched.
func WriteFile(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	if perm == 0 {
		perm = 0o600
	}

	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
