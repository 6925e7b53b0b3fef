package mirror

import (
	"context"
	"crypto/md5" //nolint:gosec // G501: MD5 matches what object stores report, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// LocalFile is one regular file found under a mirrored folder.
type LocalFile struct {
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// Scan walks dir and returns its regular files keyed by normalized
// relative path. Symlinks, sockets and devices are skipped, as are empty
// directories: only file content is mirrored.
func Scan(ctx context.Context, dir string) (map[string]LocalFile, error) {
	files := make(map[string]LocalFile)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
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

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		key := normalizeKey(rel)
		files[key] = LocalFile{
			Key:     key,
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	return files, nil
}

// CountFiles returns the number of regular files under dir.
func CountFiles(ctx context.Context, dir string) (int, error) {
	files, err := Scan(ctx, dir)
	if err != nil {
		return 0, err
	}

	return len(files), nil
}

// normalizeKey converts a relative path to a store key: forward slashes,
// no leading or trailing slash, Unicode NFC. macOS reports decomposed
// names, so without NFC the same file would diff as delete plus create.
func normalizeKey(rel string) string {
	rel = strings.ReplaceAll(filepath.ToSlash(rel), "\\", "/")
	rel = strings.Trim(rel, "/")

	return norm.NFC.String(rel)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from Scan
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // G401: content fingerprint only
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
