package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	localDirPerm  = fs.FileMode(0o755)
	localFilePerm = fs.FileMode(0o644)
)

// LocalStore mirrors into a directory on a locally mounted filesystem.
// Modification times are copied from the source so a size and mtime
// comparison detects changes without hashing.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, localDirPerm); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w", root, err)
	}

	return &LocalStore{root: root}, nil
}

func (s *LocalStore) String() string {
	return s.root
}

// List walks the root. Symlinks and non-regular files are skipped.
func (s *LocalStore) List(ctx context.Context) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Key:     filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}

	return objects, nil
}

// Put copies src to key through a temp file and rename so readers never
// observe a partial object.
func (s *LocalStore) Put(ctx context.Context, key, src string) error {
	dst, err := s.resolve(key)
	if err != nil {
		return err
	}

	in, err := os.Open(src) //nolint:gosec // G304: src comes from the local scan
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), localDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".mirror-put-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		tmp.Close()
		return fmt.Errorf("copying %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, localFilePerm); err != nil {
		return err
	}

	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("setting mtime for %s: %w", key, err)
	}

	return os.Rename(tmpName, dst)
}

// Delete removes key and prunes parent directories left empty.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	dst, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}

	for dir := filepath.Dir(dst); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	return nil
}

// resolve maps a key to an absolute path inside root, rejecting keys
// that would escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))

	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes store root", key)
	}

	return p, nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}
